package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/twinbridge/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DHSILED"

// durationKeys lists the section.key paths holding durations. File layers
// may give them as Go duration strings ("5s", "1d") or as numbers of
// seconds.
var durationKeys = [][2]string{
	{"broker", "connect_timeout"},
	{"twin_store", "request_timeout"},
	{"twin_store", "message_timeout"},
	{"reconnect", "delay"},
	{"queue", "tick"},
	{"stats", "interval"},
	{"cache", "ttl"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: EnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load starts from Default, merges every layer, applies environment
// overrides and validates when enabled.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML layer into a map, chosen by extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if err := checkNesting(raw, 0); err != nil {
		return nil, err
	}

	if err := l.parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(l.deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration values to nanoseconds for json
// unmarshaling.
func (l *Loader) parseDurations(data map[string]any) error {
	for _, key := range durationKeys {
		section, ok := data[key[0]].(map[string]any)
		if !ok {
			continue
		}
		v, ok := section[key[1]]
		if !ok || v == nil {
			continue
		}
		d, err := toDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s.%s: %v", errors.ErrInvalidConfig, key[0], key[1], err)
		}
		section[key[1]] = d.Nanoseconds()
	}
	return nil
}

func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		return parseDurationWithDays(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v (%T)", v, v)
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies DHSILED_* environment variables on top of the
// file layers.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"_BROKER_HOST":             &cfg.Broker.Host,
		"_BROKER_USERNAME":         &cfg.Broker.Username,
		"_BROKER_PASSWORD":         &cfg.Broker.Password,
		"_BROKER_TOKEN":            &cfg.Broker.Token,
		"_TOPIC_ROOT":              &cfg.Broker.TopicRoot,
		"_TWIN_HOST":               &cfg.TwinStore.Host,
		"_TWIN_USERNAME":           &cfg.TwinStore.Username,
		"_TWIN_PASSWORD":           &cfg.TwinStore.Password,
		"_TWIN_NAMESPACE":          &cfg.TwinStore.Namespace,
		"_QUEUE_OVERFLOW_STRATEGY": &cfg.Queue.OverflowStrategy,
	}
	ints := map[string]*int{
		"_BROKER_PORT":            &cfg.Broker.Port,
		"_TWIN_PORT":              &cfg.TwinStore.Port,
		"_TWIN_API_VERSION":       &cfg.TwinStore.APIVersion,
		"_RECONNECT_MAX_ATTEMPTS": &cfg.Reconnect.MaxAttempts,
		"_QUEUE_CAPACITY":         &cfg.Queue.Capacity,
		"_OBSERVERS_PORT":         &cfg.Observers.Port,
		"_METRICS_PORT":           &cfg.Metrics.Port,
	}
	bools := map[string]*bool{
		"_BROKER_TLS":        &cfg.Broker.TLS.Enabled,
		"_TWIN_TLS":          &cfg.TwinStore.TLS.Enabled,
		"_OBSERVERS_ENABLED": &cfg.Observers.Enabled,
		"_METRICS_ENABLED":   &cfg.Metrics.Enabled,
	}
	durations := map[string]*time.Duration{
		"_RECONNECT_DELAY": &cfg.Reconnect.Delay,
		"_STATS_INTERVAL":  &cfg.Stats.Interval,
	}

	var problems []string
	for suffix, dst := range strs {
		if val, ok := l.lookup(suffix, &problems); ok {
			*dst = val
		}
	}
	for suffix, dst := range ints {
		if val, ok := l.lookup(suffix, &problems); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s%s: %v", l.envPrefix, suffix, err))
				continue
			}
			*dst = n
		}
	}
	for suffix, dst := range bools {
		if val, ok := l.lookup(suffix, &problems); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s%s: %v", l.envPrefix, suffix, err))
				continue
			}
			*dst = b
		}
	}
	for suffix, dst := range durations {
		if val, ok := l.lookup(suffix, &problems); ok {
			var d time.Duration
			var err error
			if secs, convErr := strconv.ParseFloat(val, 64); convErr == nil {
				d = time.Duration(secs * float64(time.Second))
			} else {
				d, err = parseDurationWithDays(val)
			}
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s%s: %v", l.envPrefix, suffix, err))
				continue
			}
			*dst = d
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (l *Loader) lookup(suffix string, problems *[]string) (string, bool) {
	key := l.envPrefix + suffix
	val := os.Getenv(key)
	if val == "" {
		return "", false
	}
	if err := checkEnvValue(key, val); err != nil {
		*problems = append(*problems, err.Error())
		return "", false
	}
	return val, true
}
