package main

import "github.com/fleetscaler/engine/internal/config"

// loadConfig loads config from configFile if set, applies environment
// overrides, and falls back to config.DefaultConfig when no file is
// given.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
