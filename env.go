package flclient

import (
	"fmt"
	"slices"
	"time"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/caarlos0/env/v11"
)

const (
	TransportMQTT = "mqtt"
	TransportHTTP = "http"
)

// RuntimeConfig holds process settings that do not belong in the client
// configuration file: transport, credentials and observability endpoints.
type RuntimeConfig struct {
	LogLevel           string        `env:"FLCLIENT_LOG_LEVEL"           envDefault:"info"`
	Transport          string        `env:"FLCLIENT_TRANSPORT"           envDefault:"mqtt"`
	ParameterFormat    string        `env:"FLCLIENT_PARAMETER_FORMAT"    envDefault:"json-f64"`
	WorkloadKey        string        `env:"FLCLIENT_WORKLOAD_KEY"`
	StatusAddress      string        `env:"FLCLIENT_STATUS_ADDRESS"      envDefault:":9090"`
	DomainID           string        `env:"FLCLIENT_DOMAIN_ID"`
	ChannelID          string        `env:"FLCLIENT_CHANNEL_ID"`
	ClientID           string        `env:"FLCLIENT_CLIENT_ID"`
	ClientKey          string        `env:"FLCLIENT_CLIENT_KEY"`
	InstanceID         string        `env:"FLCLIENT_INSTANCE_ID"`
	MQTTTimeout        time.Duration `env:"FLCLIENT_MQTT_TIMEOUT"        envDefault:"30s"`
	MQTTQoS            byte          `env:"FLCLIENT_MQTT_QOS"            envDefault:"1"`
	CAPath             string        `env:"FLCLIENT_MQTT_CA_PATH"`
	CertPath           string        `env:"FLCLIENT_MQTT_CERT_PATH"`
	KeyPath            string        `env:"FLCLIENT_MQTT_KEY_PATH"`
	LivelinessInterval time.Duration `env:"FLCLIENT_LIVELINESS_INTERVAL" envDefault:"10s"`
	PollInterval       time.Duration `env:"FLCLIENT_POLL_INTERVAL"       envDefault:"2s"`
	HTTPTimeout        time.Duration `env:"FLCLIENT_HTTP_TIMEOUT"        envDefault:"30s"`
	OtelURL            string        `env:"FLCLIENT_OTEL_URL"`
	TraceRatio         float64       `env:"FLCLIENT_TRACE_RATIO"         envDefault:"1.0"`
}

func LoadRuntimeConfig() (RuntimeConfig, error) {
	var cfg RuntimeConfig
	if err := env.Parse(&cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("failed to load runtime configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RuntimeConfig{}, err
	}

	return cfg, nil
}

func (c RuntimeConfig) Validate() error {
	if !slices.Contains([]string{TransportMQTT, TransportHTTP}, c.Transport) {
		return fmt.Errorf("runtime config: transport %q is not one of %s, %s: %w", c.Transport, TransportMQTT, TransportHTTP, pkgerrors.ErrInvalidValue)
	}
	if !fl.SupportedFormat(c.ParameterFormat) {
		return fmt.Errorf("runtime config: parameter format %q: %w", c.ParameterFormat, pkgerrors.ErrUnsupportedFormat)
	}
	if c.TraceRatio < 0 || c.TraceRatio > 1 {
		return fmt.Errorf("runtime config: trace ratio must be within [0, 1], got %g: %w", c.TraceRatio, pkgerrors.ErrInvalidValue)
	}
	if c.MQTTQoS > 2 {
		return fmt.Errorf("runtime config: MQTT QoS must be 0, 1 or 2, got %d: %w", c.MQTTQoS, pkgerrors.ErrInvalidValue)
	}

	return nil
}
