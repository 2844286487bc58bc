package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/evcharger/core/dispatch"
	"github.com/kilianp07/evcharger/core/dispatch/logging"
	"github.com/kilianp07/evcharger/core/metrics"
	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/infra/mqtt"
	"github.com/kilianp07/evcharger/infra/ocpp"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: EVC_STATION__IDENTITY overrides station.identity.
const EnvPrefix = "EVC_"

type Config struct {
	Station  model.StationConfig `json:"station"`
	OCPP     ocpp.Config         `json:"ocpp"`
	Dispatch dispatch.Config     `json:"dispatch"`
	MQTT     mqtt.Config         `json:"mqtt"`
	Metrics  metrics.Config      `json:"metrics"`
	Journal  logging.Config      `json:"journal"`
	HTTP     HTTPConfig          `json:"http"`
	Sentry   SentryConfig        `json:"sentry"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section with its defaults.
func (c *Config) SetDefaults() {
	if c.Station.SerialNumber == "" {
		c.Station.SerialNumber = c.Station.Identity
	}
	c.OCPP.SetDefaults()
	c.Dispatch.SetDefaults()
	c.MQTT.SetDefaults()
	c.Journal.SetDefaults()
}

// Validate checks every section and reports the first error.
func (c Config) Validate() error {
	checks := []struct {
		section string
		err     error
	}{
		{"station", c.Station.Validate()},
		{"ocpp", c.OCPP.Validate()},
		{"dispatch", c.Dispatch.Validate()},
		{"mqtt", c.MQTT.Validate()},
		{"journal", c.Journal.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%s: %w", ch.section, ch.err)
		}
	}
	return nil
}
