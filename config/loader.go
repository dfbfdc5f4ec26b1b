package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader binds.
const EnvPrefix = "STEPFLOW"

// ConfigEnv names a config file when no explicit path is given.
const ConfigEnv = EnvPrefix + "_CONFIG"

// LoaderOption customises LoadConfig.
type LoaderOption func(*loader)

type loader struct {
	configFile string
	envFile    string
}

// WithConfigFile loads path instead of searching. The file must exist.
func WithConfigFile(path string) LoaderOption {
	return func(l *loader) { l.configFile = path }
}

// WithEnvFile loads path as a .env file instead of searching. The file must
// exist.
func WithEnvFile(path string) LoaderOption {
	return func(l *loader) { l.envFile = path }
}

// LoadConfig fills cfg from, in increasing precedence, a YAML file, a .env
// file and STEPFLOW_* environment variables. Keys come from cfg's
// mapstructure tags: scheduler.max_in_flight binds to
// STEPFLOW_SCHEDULER_MAX_IN_FLIGHT. When cfg implements Validatable, defaults
// are applied and the result validated.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	var l loader
	for _, opt := range opts {
		opt(&l)
	}

	envFile, err := l.resolveEnvFile(serviceName)
	if err != nil {
		return err
	}
	if envFile != "" {
		// godotenv never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	configFile, err := l.resolveConfigFile(serviceName)
	if err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range Keys(reflect.TypeOf(cfg)) {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config for %s: %w", serviceName, err)
	}
	if val, ok := cfg.(Validatable); ok {
		val.ApplyDefaults()
		if err := val.Validate(); err != nil {
			return fmt.Errorf("invalid config for %s: %w", serviceName, err)
		}
	}
	return nil
}

func (l loader) resolveConfigFile(service string) (string, error) {
	if l.configFile != "" {
		return l.configFile, mustExist(l.configFile)
	}
	if p := os.Getenv(ConfigEnv); p != "" {
		return p, mustExist(p)
	}
	return firstExisting(
		service+".yml",
		"config.yml",
		filepath.Join("config", "config.yml"),
		filepath.Join("cmd", service, "config.yml"),
	), nil
}

func (l loader) resolveEnvFile(service string) (string, error) {
	if l.envFile != "" {
		return l.envFile, mustExist(l.envFile)
	}
	return firstExisting(".env."+service, ".env", filepath.Join("cmd", service, ".env")), nil
}

func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Keys lists the dotted keys of a config struct type, following mapstructure
// tags and squashed embeddings. Untagged fields use their lowercased name.
func Keys(t reflect.Type) []string {
	var keys []string
	collectKeys(t, "", &keys)
	return keys
}

var errNotStruct = errors.New("not a struct")

func collectKeys(t reflect.Type, prefix string, keys *[]string) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return errNotStruct
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if strings.Contains(opts, "squash") {
			_ = collectKeys(f.Type, prefix, keys)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := prefix + name
		if isLeaf(f.Type) || collectKeys(f.Type, key+".", keys) != nil {
			*keys = append(*keys, key)
		}
	}
	return nil
}

// isLeaf reports struct types decoded from a single value.
func isLeaf(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t.PkgPath() == "time"
}
