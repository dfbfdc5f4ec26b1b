// Package config loads stepflow configuration with Viper.
//
// Values come from a YAML file, then a .env file, then the environment;
// later sources win. Every key of the target struct is bound to an
// environment variable named after it, so scheduler.max_in_flight is set by
// STEPFLOW_SCHEDULER_MAX_IN_FLIGHT and cache.breaker.timeout by
// STEPFLOW_CACHE_BREAKER_TIMEOUT.
//
// Without an explicit path the file is taken from STEPFLOW_CONFIG, or the
// first of <service>.yml, config.yml, config/config.yml and
// cmd/<service>/config.yml in the working directory.
package config
