package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ HookService   = (*Service)(nil)
	_ Signer        = HMACSigner{}
	_ Attempter     = (*DeliveryAttempter)(nil)
	_ BackoffPolicy = (*ExponentialJitterBackoff)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
