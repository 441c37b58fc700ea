package bespoke

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("bespoke.profile")
