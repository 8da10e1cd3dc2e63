package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "CALLGATE"

var (
	configSearchPaths = []string{"./callgate.yml", "./config/callgate.yml", "./config.yml"}
	envSearchPaths    = []string{"./.env", "./config/.env"}
)

// LoaderConfig holds optional file overrides.
type LoaderConfig struct {
	ConfigFile string
	EnvFile    string
	EnvPrefix  string
	Secrets    []SecretProvider
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit YAML file. It must exist.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file. It must exist.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix replaces the CALLGATE environment prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// WithSecretProvider registers a provider for secretref: values.
func WithSecretProvider(p SecretProvider) LoaderOption {
	return func(lc *LoaderConfig) { lc.Secrets = append(lc.Secrets, p) }
}

// Load is LoadContext with a background context.
func Load(opts ...LoaderOption) (*Config, error) {
	return LoadContext(context.Background(), opts...)
}

// LoadContext reads the configuration once: the YAML file first, then the .env
// file into the process environment, then environment overrides such as
// CALLGATE_RESOURCES_OPENAI_REQUESTS_PER_MINUTE. Unset fields take the
// defaults, secret references are resolved and the result is validated.
func LoadContext(ctx context.Context, opts ...LoaderOption) (*Config, error) {
	lc := LoaderConfig{EnvPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}

	configFile, err := resolve(lc.ConfigFile, configSearchPaths)
	if err != nil {
		return nil, err
	}
	envFile, err := resolve(lc.EnvFile, envSearchPaths)
	if err != nil {
		return nil, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	prefix := strings.ToUpper(strings.TrimSuffix(lc.EnvPrefix, "_"))
	if err := bindEnv(v, prefix); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.ResolveSecrets(ctx, lc.Secrets...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve returns explicit when set, failing if it is missing, otherwise the
// first search path that exists or "".
func resolve(explicit string, search []string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}
	for _, path := range search {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// bindEnv binds every known key to its PREFIX_UPPER_SNAKE variable. Resource
// names come from the defaults, the config file and the environment itself.
func bindEnv(v *viper.Viper, prefix string) error {
	static := leafKeys(reflect.TypeOf(Config{}), "")
	resourceFields := leafKeys(reflect.TypeOf(ResourceConfig{}), "")

	names := make(map[string]struct{})
	for name := range BuiltinResources() {
		names[name] = struct{}{}
	}
	for name := range v.GetStringMap("resources") {
		names[name] = struct{}{}
	}
	for name := range envResourceNames(prefix, resourceFields) {
		names[name] = struct{}{}
	}

	keys := static
	for name := range names {
		for _, field := range resourceFields {
			keys = append(keys, "resources."+name+"."+field)
		}
	}

	for _, key := range keys {
		if err := v.BindEnv(key, envName(prefix, key)); err != nil {
			return fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	return nil
}

func envName(prefix, key string) string {
	name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// envResourceNames finds resources only named in the environment by
// stripping a known field suffix from PREFIX_RESOURCES_<NAME>_<FIELD>.
func envResourceNames(prefix string, fields []string) map[string]struct{} {
	head := envName(prefix, "resources") + "_"
	names := make(map[string]struct{})

	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, head) {
			continue
		}
		rest := strings.TrimPrefix(key, head)
		// Longest suffix wins so RECOVERY_TIMEOUT is not read as TIMEOUT.
		best := ""
		for _, field := range fields {
			suffix := "_" + strings.ToUpper(field)
			if strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) && len(suffix) > len(best) {
				best = suffix
			}
		}
		if best != "" {
			names[strings.ToLower(strings.TrimSuffix(rest, best))] = struct{}{}
		}
	}
	return names
}

// leafKeys lists the dotted mapstructure keys of t's scalar fields. Maps are
// skipped; the caller expands them.
func leafKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch ft.Kind() {
		case reflect.Struct:
			keys = append(keys, leafKeys(ft, key)...)
		case reflect.Map:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}
