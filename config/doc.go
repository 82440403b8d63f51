// Package config loads the bridge configuration.
//
// Loading happens in layers, each one overriding only the keys it sets:
//
//  1. built-in defaults (Default)
//  2. file layers, JSON or YAML by extension, merged in order
//  3. DHSILED_* environment variables
//
// followed by Validate when validation is enabled:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/twinbridge/base.yaml")
//	loader.AddLayer("/etc/twinbridge/site.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err
//	}
//
// Durations in files may be Go duration strings ("5s", "100ms"), day counts
// ("1d"), or plain numbers of seconds.
//
// # Environment Overrides
//
//	DHSILED_BROKER_HOST, DHSILED_BROKER_PORT, DHSILED_BROKER_USERNAME,
//	DHSILED_BROKER_PASSWORD, DHSILED_BROKER_TOKEN, DHSILED_BROKER_TLS,
//	DHSILED_TOPIC_ROOT,
//	DHSILED_TWIN_HOST, DHSILED_TWIN_PORT, DHSILED_TWIN_USERNAME,
//	DHSILED_TWIN_PASSWORD, DHSILED_TWIN_NAMESPACE, DHSILED_TWIN_API_VERSION,
//	DHSILED_TWIN_TLS,
//	DHSILED_RECONNECT_DELAY, DHSILED_RECONNECT_MAX_ATTEMPTS,
//	DHSILED_QUEUE_CAPACITY, DHSILED_QUEUE_OVERFLOW_STRATEGY,
//	DHSILED_OBSERVERS_ENABLED, DHSILED_OBSERVERS_PORT,
//	DHSILED_METRICS_ENABLED, DHSILED_METRICS_PORT, DHSILED_STATS_INTERVAL
//
// # Validation
//
// Validate reports every problem at once as an invalid error wrapping
// errors.ErrInvalidConfig. The delivery queue only supports the
// drop_oldest overflow strategy; any other value is rejected.
//
// Config files must be regular .json, .yaml or .yml files of at most 1MB,
// nested at most 32 levels; relative paths may not escape the working
// directory.
package config
