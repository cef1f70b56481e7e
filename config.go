// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config carries defaults loaded from the optional TDM_CONFIG
// file. Environment variables win over file values.
type config struct {
	Module   string `yaml:"module"`
	Thread   *bool  `yaml:"thread"`
	LogLevel string `yaml:"log_level"`
	DumpDir  string `yaml:"dump_dir"`
}

// envDumpSpec returns the dump directory requested through the
// environment, if any.
func envDumpSpec() string {
	return os.Getenv("TDM_DEBUG_DUMP")
}

// loadConfig reads TDM_CONFIG when set. A missing or broken file
// only logs; init proceeds with defaults.
func loadConfig() *config {
	cfg := &config{}
	path := os.Getenv("TDM_CONFIG")
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log().Warnf("config %s: %v", path, err)
		return cfg
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log().Warnf("config %s: %v", path, err)
		return &config{}
	}
	return cfg
}

// apply pushes file values into the environment-backed knobs
// without overriding explicit environment settings.
func (c *config) apply() {
	if c.Module != "" && os.Getenv("TDM_MODULE") == "" {
		os.Setenv("TDM_MODULE", c.Module)
	}
	if c.Thread != nil {
		if _, ok := os.LookupEnv("TDM_THREAD"); !ok {
			if *c.Thread {
				os.Setenv("TDM_THREAD", "1")
			} else {
				os.Setenv("TDM_THREAD", "0")
			}
		}
	}
	if c.LogLevel != "" && os.Getenv("TDM_DEBUG") != "1" {
		setLogLevel(c.LogLevel)
	}
	if c.DumpDir != "" && envDumpSpec() == "" {
		setDumpDir(c.DumpDir)
	}
}
