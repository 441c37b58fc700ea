package jit

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("bespoke.jit")
