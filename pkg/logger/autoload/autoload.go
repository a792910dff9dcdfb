// Package autoload initialises the global logger from LOG_* environment
// variables when imported for side effects.
package autoload

import (
	"github.com/kelseyhightower/envconfig"

	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

func init() {
	var cfg logx.Config
	if err := envconfig.Process("LOG", &cfg); err != nil {
		logx.Init()
		logx.Warn().Err(err).Msg("invalid LOG_* configuration, using defaults")
		return
	}
	logx.Init(cfg)
}
