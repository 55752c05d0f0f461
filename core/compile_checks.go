package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ KeyValueStore   = (*MemoryKeyValueStore)(nil)
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ Transport       = TransportFunc(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
