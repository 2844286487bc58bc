package metrics

import "github.com/kilianp07/evcharger/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks          []factory.ModuleConfig `json:"sinks"`
	PrometheusPort string                 `json:"prometheus_port"`
}
