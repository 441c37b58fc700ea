package codegen

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("bespoke.codegen")
