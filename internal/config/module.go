// Package config loads the YAML configuration and provides it to the Fx graph.
package config

import (
	"go.uber.org/fx"
)

// Module provides *Config from the supplied file path.
var Module = fx.Module("config",
	fx.Provide(LoadConfig),
)
