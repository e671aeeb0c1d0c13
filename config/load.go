package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. CHUNK_UPLOADER_MAX_CONCURRENT.
const EnvPrefix = "CHUNK_UPLOADER_"

var envSections = []string{"dfx_", "http_", "s3_", "redis_"}

// Sources lists where Load reads options from. Empty fields are skipped.
type Sources struct {
	// ConfigFile is a YAML file using the koanf keys of Options.
	ConfigFile string
	// DotEnvFile is loaded into the process environment if it exists. Variables already set win.
	DotEnvFile string
	// Flags contributes the flags the user set explicitly.
	Flags *pflag.FlagSet
}

// Load merges defaults, the config file, the environment and the changed flags.
func Load(sources Sources) (Options, error) {
	k := koanf.New(".")

	if sources.ConfigFile != "" {
		if err := k.Load(file.Provider(sources.ConfigFile), yaml.Parser()); err != nil {
			return Options{}, fmt.Errorf("load config file %s: %w", sources.ConfigFile, err)
		}
	}

	if sources.DotEnvFile != "" {
		if err := godotenv.Load(sources.DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Options{}, fmt.Errorf("load %s: %w", sources.DotEnvFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Options{}, fmt.Errorf("load environment: %w", err)
	}

	if sources.Flags != nil {
		var setErr error
		sources.Flags.Visit(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || setErr != nil {
				return
			}
			setErr = k.Set(key, flagValue(f))
		})
		if setErr != nil {
			return Options{}, fmt.Errorf("apply flags: %w", setErr)
		}
	}

	opts := Defaults()
	if err := k.Unmarshal("", &opts); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	return opts, nil
}

// envKey maps CHUNK_UPLOADER_S3_BUCKET to s3.bucket and CHUNK_UPLOADER_MAX_RETRIES to max_retries.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range envSections {
		if strings.HasPrefix(key, section) {
			return strings.TrimSuffix(section, "_") + "." + strings.TrimPrefix(key, section)
		}
	}
	return key
}

func flagValue(f *pflag.Flag) interface{} {
	if slice, ok := f.Value.(pflag.SliceValue); ok {
		return slice.GetSlice()
	}
	return f.Value.String()
}
