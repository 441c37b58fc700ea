package irgen

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("bespoke.irgen")
