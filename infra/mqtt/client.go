package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Presence payloads published on the online topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Config defines the broker connection and topic layout of the bridge.
type Config struct {
	Enabled     bool            `json:"enabled"`
	Broker      string          `json:"broker"`
	ClientID    string          `json:"client_id"`
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	TopicPrefix string          `json:"topic_prefix"`
	UseTLS      bool            `json:"use_tls"`
	ClientCert  string          `json:"client_cert"`
	ClientKey   string          `json:"client_key"`
	CABundle    string          `json:"ca_bundle"`
	AuthMethod  string          `json:"auth_method"`
	QoS         map[string]byte `json:"qos"`
	MaxRetries  int             `json:"max_retries"`
	BackoffMS   int             `json:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-"`
}

// SetDefaults fills the topic prefix, client id and retry policy.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "evcharger"
	}
	if c.ClientID == "" {
		c.ClientID = "evcharger"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the settings of an enabled bridge.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	switch c.AuthMethod {
	case "", "username_password", "tls", "both":
	default:
		return fmt.Errorf("unknown auth_method %q", c.AuthMethod)
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("topic_prefix must not contain wildcards")
	}
	return nil
}

func (c Config) qos(key string) byte {
	if q, ok := c.QoS[key]; ok {
		return q
	}
	return 0
}

func (c Config) backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// Topics is the per-charger topic set.
type Topics struct {
	State      string
	Transition string
	Command    string
	Result     string
	Online     string
}

// Topics returns the topics used for the given charge point identity.
func (c Config) Topics(identity string) Topics {
	base := strings.TrimSuffix(c.TopicPrefix, "/") + "/" + identity
	return Topics{
		State:      base + "/state",
		Transition: base + "/transition",
		Command:    base + "/command",
		Result:     base + "/command/result",
		Online:     base + "/online",
	}
}

// pahoClient is the subset of paho.Client used by the bridge.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds mqtt client options from Config. The last will marks
// the charger offline on its presence topic.
func NewClientOptions(cfg Config, identity string) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	// Command handlers publish their result; they must not hold up the router.
	opts.SetOrderMatters(false)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.SetWill(cfg.Topics(identity).Online, PayloadOffline, cfg.qos("online"), true)
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificates found in %s", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
