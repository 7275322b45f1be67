package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Options controls where configuration is looked up.
type Options struct {
	// Paths are searched in order, then "." and "./config".
	Paths []string
	// Name is the config file name without extension.
	Name string
	// EnvPrefix, when set, namespaces automatic environment lookups
	// (EnvPrefix_SERVER_PORT instead of SERVER_PORT).
	EnvPrefix string
}

// Load reads configuration from file and environment variables.
// configPath is the directory containing config files.
// configName is the name of the config file (without extension).
func Load(configPath, configName string) (*viper.Viper, error) {
	return LoadWithOptions(Options{Paths: []string{configPath}, Name: configName})
}

// LoadWithOptions is Load with explicit search paths and env prefix.
// A missing config file is not an error: defaults and env vars apply.
func LoadWithOptions(opts Options) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(opts.Name)
	v.SetConfigType("yaml")
	for _, p := range opts.Paths {
		if p != "" {
			v.AddConfigPath(p)
		}
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return v, nil
}

// Duration reads key as a duration string, falling back to def when the
// value is missing or malformed.
func Duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// StringSlice reads key as either a YAML list or a comma separated string,
// which is how list values arrive through environment variables.
func StringSlice(v *viper.Viper, key string) []string {
	raw := v.GetStringSlice(key)
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
