package app

import (
	"github.com/chartwellhealth/provider-portal/pkg/logger"
)

// ConfigureLogging initialises the global logger at the configured level.
func ConfigureLogging(level string) error {
	return logger.Init(level)
}
