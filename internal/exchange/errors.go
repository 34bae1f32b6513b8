package exchange

import "errors"

// errEmptyTick marks a structurally valid JSON frame that is missing the
// fields a tick requires (symbol/price). It is wrapped in a
// *FrameParseError at the call site.
var errEmptyTick = errors.New("tick frame missing required fields")
