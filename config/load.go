package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads a run configuration file (YAML or JSON, detected from its
// extension by Viper) into a RawConfig: a single explicit config file
// path, unmarshaled with mapstructure tags rather than hand-rolled
// field-by-field decoding.
func Load(path string) (RawConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return RawConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw RawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return RawConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return raw, nil
}
