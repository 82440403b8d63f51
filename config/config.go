package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/c360/twinbridge/errors"
	"github.com/c360/twinbridge/pkg/tlsutil"
)

// OverflowDropOldest is the only supported delivery queue overflow strategy.
const OverflowDropOldest = "drop_oldest"

// Config represents the complete bridge configuration.
type Config struct {
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
	TwinStore TwinStoreConfig `json:"twin_store" yaml:"twin_store"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Observers ObserversConfig `json:"observers" yaml:"observers"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Stats     StatsConfig     `json:"stats" yaml:"stats"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
}

// BrokerConfig defines the NATS connection and the JetStream resources the
// subscriber reads from.
type BrokerConfig struct {
	Host           string               `json:"host" yaml:"host"`
	Port           int                  `json:"port" yaml:"port"`
	Username       string               `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string               `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string               `json:"token,omitempty" yaml:"token,omitempty"`
	TLS            tlsutil.ClientConfig `json:"tls" yaml:"tls"`
	TopicRoot      string               `json:"topic_root" yaml:"topic_root"`
	Stream         string               `json:"stream" yaml:"stream"`
	Consumer       string               `json:"consumer" yaml:"consumer"`
	ConnectTimeout time.Duration        `json:"connect_timeout" yaml:"connect_timeout"`
}

// TwinStoreConfig defines the twin store HTTP API and change feed.
type TwinStoreConfig struct {
	Host           string               `json:"host" yaml:"host"`
	Port           int                  `json:"port" yaml:"port"`
	Username       string               `json:"username" yaml:"username"`
	Password       string               `json:"password" yaml:"password"`
	Namespace      string               `json:"namespace" yaml:"namespace"`
	APIVersion     int                  `json:"api_version" yaml:"api_version"`
	TLS            tlsutil.ClientConfig `json:"tls" yaml:"tls"`
	RequestTimeout time.Duration        `json:"request_timeout" yaml:"request_timeout"`
	MessageTimeout time.Duration        `json:"message_timeout" yaml:"message_timeout"`
}

// ReconnectConfig is the policy shared by the broker link and the change
// feed link.
type ReconnectConfig struct {
	Delay       time.Duration `json:"delay" yaml:"delay"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
}

// QueueConfig configures the delivery queue.
type QueueConfig struct {
	Capacity         int           `json:"capacity" yaml:"capacity"`
	Tick             time.Duration `json:"tick" yaml:"tick"`
	OverflowStrategy string        `json:"overflow_strategy" yaml:"overflow_strategy"`
}

// ObserversConfig configures the dashboard fan-out server.
type ObserversConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// StatsConfig configures the periodic statistics report.
type StatsConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// CacheConfig sizes the ensured-twin cache.
type CacheConfig struct {
	Twins int           `json:"twins" yaml:"twins"`
	TTL   time.Duration `json:"ttl" yaml:"ttl"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           4222,
			TopicRoot:      "dhsiled",
			Stream:         "DHSILED",
			Consumer:       "twinbridge",
			ConnectTimeout: 30 * time.Second,
		},
		TwinStore: TwinStoreConfig{
			Host:           "localhost",
			Port:           8080,
			Username:       "ditto",
			Password:       "ditto",
			Namespace:      "org.dhsiled",
			APIVersion:     2,
			RequestTimeout: 10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Delay:       5 * time.Second,
			MaxAttempts: 10,
		},
		Queue: QueueConfig{
			Capacity:         1000,
			Tick:             100 * time.Millisecond,
			OverflowStrategy: OverflowDropOldest,
		},
		Observers: ObserversConfig{
			Enabled: true,
			Port:    8765,
			Path:    "/ws",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Stats: StatsConfig{
			Interval: 60 * time.Second,
		},
		Cache: CacheConfig{
			Twins: 1024,
			TTL:   10 * time.Minute,
		},
	}
}

// Validate checks the configuration. Every violation is reported, joined
// into one invalid error.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Broker.Host != "", "broker.host is required")
	check(validPort(c.Broker.Port), "broker.port %d out of range", c.Broker.Port)
	check(isValidTopicRoot(c.Broker.TopicRoot),
		"broker.topic_root %q is not valid (alphanumeric segments separated by '/' or '.')", c.Broker.TopicRoot)
	check(c.Broker.Stream != "" && isValidNATSSubjectPart(c.Broker.Stream) && !strings.Contains(c.Broker.Stream, "."),
		"broker.stream %q is not a valid stream name", c.Broker.Stream)
	check(c.Broker.Consumer != "" && isValidNATSSubjectPart(c.Broker.Consumer) && !strings.Contains(c.Broker.Consumer, "."),
		"broker.consumer %q is not a valid consumer name", c.Broker.Consumer)
	check(c.Broker.ConnectTimeout > 0, "broker.connect_timeout must be positive")
	problems = append(problems, validateTLS("broker.tls", c.Broker.TLS)...)

	check(c.TwinStore.Host != "", "twin_store.host is required")
	check(validPort(c.TwinStore.Port), "twin_store.port %d out of range", c.TwinStore.Port)
	check(isValidNamespace(c.TwinStore.Namespace),
		"twin_store.namespace %q is not valid (dot-separated identifiers)", c.TwinStore.Namespace)
	check(c.TwinStore.APIVersion > 0, "twin_store.api_version must be positive")
	check(c.TwinStore.RequestTimeout > 0, "twin_store.request_timeout must be positive")
	check(c.TwinStore.MessageTimeout >= 0, "twin_store.message_timeout cannot be negative")
	problems = append(problems, validateTLS("twin_store.tls", c.TwinStore.TLS)...)

	check(c.Reconnect.Delay > 0, "reconnect.delay must be positive")
	check(c.Reconnect.MaxAttempts > 0, "reconnect.max_attempts must be positive")

	check(c.Queue.Capacity > 0, "queue.capacity must be positive")
	check(c.Queue.Tick > 0, "queue.tick must be positive")
	check(c.Queue.OverflowStrategy == OverflowDropOldest,
		"queue.overflow_strategy %q is not supported (only %q)", c.Queue.OverflowStrategy, OverflowDropOldest)

	if c.Observers.Enabled {
		check(validPort(c.Observers.Port), "observers.port %d out of range", c.Observers.Port)
		check(strings.HasPrefix(c.Observers.Path, "/"), "observers.path must start with /")
	}
	if c.Metrics.Enabled {
		check(validPort(c.Metrics.Port), "metrics.port %d out of range", c.Metrics.Port)
		check(strings.HasPrefix(c.Metrics.Path, "/"), "metrics.path must start with /")
	}
	if c.Observers.Enabled && c.Metrics.Enabled {
		check(c.Observers.Port != c.Metrics.Port, "observers.port and metrics.port must differ")
	}

	check(c.Stats.Interval > 0, "stats.interval must be positive")
	check(c.Cache.Twins > 0, "cache.twins must be positive")
	check(c.Cache.TTL >= 0, "cache.ttl cannot be negative")

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

func validateTLS(prefix string, cfg tlsutil.ClientConfig) []string {
	if !cfg.Enabled {
		return nil
	}
	var problems []string
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		problems = append(problems, prefix+": cert_file and key_file must be set together")
	}
	for name, path := range map[string]string{"ca_file": cfg.CAFile, "cert_file": cfg.CertFile, "key_file": cfg.KeyFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			problems = append(problems, fmt.Sprintf("%s.%s: %v", prefix, name, err))
		}
	}
	if err := validateTLSVersion(cfg.MinVersion); err != nil {
		problems = append(problems, fmt.Sprintf("%s.min_version: %v", prefix, err))
	}
	return problems
}

// validateTLSVersion accepts "", "1.2" and "1.3".
func validateTLSVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// isValidTopicRoot accepts MQTT-style ("a/b") and NATS-style ("a.b")
// roots without wildcards or empty segments.
func isValidTopicRoot(root string) bool {
	if root == "" {
		return false
	}
	for _, seg := range strings.FieldsFunc(root, func(r rune) bool { return r == '/' || r == '.' }) {
		if !isValidNATSSubjectPart(seg) {
			return false
		}
	}
	return !strings.Contains(root, "//") && !strings.Contains(root, "..")
}

// isValidNamespace accepts Java-package style namespaces such as
// "org.dhsiled".
func isValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, part := range strings.Split(ns, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			if i == 0 && !unicode.IsLetter(r) {
				return false
			}
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				return false
			}
		}
	}
	return true
}

// Redacted returns a copy with credentials masked, for logging.
func (c *Config) Redacted() *Config {
	copied := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	copied.Broker.Password = mask(c.Broker.Password)
	copied.Broker.Token = mask(c.Broker.Token)
	copied.TwinStore.Password = mask(c.TwinStore.Password)
	return &copied
}

// String returns a JSON representation of the config with credentials
// masked.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
