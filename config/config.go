// Package config loads the engine's runtime configuration from an INI
// file, falling back to built-in defaults for anything missing or for a
// missing file entirely.
//
// A missing or unparsable file yields the defaults rather than an error;
// every lookup in a file that does parse goes through a MustString/MustInt
// default so the engine always ends up with a complete EngineConfig.
package config

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/Prabhat2912/mini-database-engine/types"
)

// EngineConfig is the fully resolved set of knobs the engine needs at
// startup.
type EngineConfig struct {
	DataDir        string
	BufferPoolSize int
	WALPath        string
	CheckpointDir  string
}

// Default returns the built-in defaults, used when no config file is
// supplied or when a section/key is absent from one that is.
func Default() EngineConfig {
	return EngineConfig{
		DataDir:        "data",
		BufferPoolSize: types.BufferPoolSize,
		WALPath:        "data/wal.log",
		CheckpointDir:  "data",
	}
}

// Load reads path as an INI file and overlays its [engine] section onto
// the defaults. A missing or unparsable file yields the defaults
// unchanged rather than failing startup over a config problem.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logrus.WithField("path", path).Debug("config file not found, using defaults")
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		logrus.WithField("path", path).WithError(err).Warn("failed to parse config file, using defaults")
		return cfg, nil
	}

	section := file.Section("engine")
	cfg.DataDir = section.Key("data_dir").MustString(cfg.DataDir)
	cfg.BufferPoolSize = section.Key("buffer_pool_size").MustInt(cfg.BufferPoolSize)
	cfg.WALPath = section.Key("wal_path").MustString(cfg.WALPath)
	cfg.CheckpointDir = section.Key("checkpoint_dir").MustString(cfg.CheckpointDir)

	return cfg, nil
}
