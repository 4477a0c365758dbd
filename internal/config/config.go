// Package config loads Vasool configuration from defaults, an optional
// YAML file, a .env file and VASOOL_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/spf13/viper"
)

const envPrefix = "VASOOL"

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an optional YAML file. Missing files are not an error.
	ConfigFile string

	// EnvFiles are loaded with godotenv before reading the environment.
	// Existing variables are never overwritten.
	EnvFiles []string
}

// Load builds the configuration. VASOOL_TIER picks the base profile, then
// the file and environment override individual keys, for example
// VASOOL_SERVER_PORT or VASOOL_REPOSITORY_SQLITE_PATH.
func Load(opts Options) (*domain.Config, error) {
	loadEnvFiles(opts.EnvFiles)

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
			}
			slog.Info("no config file found, using defaults", "path", opts.ConfigFile)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func loadEnvFiles(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			slog.Debug("loaded env file", "path", f)
		}
	}
}

// setDefaults registers every leaf of base as a viper default so that
// AutomaticEnv can override keys that appear in no config file.
func setDefaults(v *viper.Viper, base *domain.Config) {
	walk("", reflect.ValueOf(base).Elem(), func(key string, value any) {
		v.SetDefault(key, value)
	})
}

func walk(prefix string, val reflect.Value, visit func(key string, value any)) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			walk(key, fv, visit)
			continue
		}
		visit(key, fv.Interface())
	}
}
