package configx

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/marcodd23/go-txscope/pkg/errorx"
	"github.com/marcodd23/go-txscope/pkg/utilx/timex"
	"github.com/marcodd23/go-txscope/pkg/validator"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultConfigBaseName = "txscope"
	envPrefix             = "TXSCOPE"
	databaseURLEnv        = "DATABASE_URL"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LoadSessionConfigForEnv - search txscope.yaml (or txscope-<env>.yaml when ENVIRONMENT is dev, stage or prod)
// in the given search path.
func LoadSessionConfigForEnv(searchPath string) (SessionConfig, error) {
	baseName := defaultConfigBaseName
	if searchPath != "" {
		baseName = fmt.Sprintf("%s/%s", strings.TrimSuffix(searchPath, "/"), defaultConfigBaseName)
	}

	return LoadSessionConfig(getEnvPropertyFileName(baseName))
}

// LoadSessionConfig reads the session configuration from the file and environment variables.
// A missing file is not an error: defaults and the environment are used instead.
// The result is validated; an invalid configuration is returned as *errorx.ConfigurationError.
func LoadSessionConfig(configFilePath string) (SessionConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultSessionConfig())

	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// Replace dots in keys with underscores in environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return SessionConfig{}, errorx.NewConfigurationErrorWrapper(err, "unable to read %s", configFilePath)
		}
	}

	var cfg SessionConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return SessionConfig{}, errorx.NewConfigurationErrorWrapper(err, "unable to decode into config struct")
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv(databaseURLEnv)
	}

	if err := Validate(cfg); err != nil {
		return SessionConfig{}, err
	}

	return cfg, nil
}

// Validate checks the configuration with the struct tags of SessionConfig.
func Validate(cfg SessionConfig) error {
	if err := validator.NewValidator().Validate(cfg); err != nil {
		return errorx.NewConfigurationErrorWrapper(err, "invalid session configuration")
	}

	return nil
}

func setDefaults(v *viper.Viper, def SessionConfig) {
	v.SetDefault("disableRollback", def.DisableRollback)
	v.SetDefault("enableExperimentalRollbackInTransaction", def.EnableExperimentalRollbackInTransaction)
	v.SetDefault("verboseQuery", def.VerboseQuery)
	v.SetDefault("maxWait", def.MaxWait)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("isolationLevel", def.IsolationLevel)
	v.SetDefault("databaseUrl", def.DatabaseURL)
	v.SetDefault("clientPath", def.ClientPath)
	v.SetDefault("rootDir", def.RootDir)
	v.SetDefault("environment", def.Environment)
	v.SetDefault("logging.level", def.Logging.Level)
}

// durationDecodeHook accepts durations as integer milliseconds or as duration strings.
func durationDecodeHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}

		switch value := data.(type) {
		case time.Duration:
			return value, nil
		case string:
			return timex.ParseDuration(value)
		case int:
			return timex.Millis(int64(value)), nil
		case int64:
			return timex.Millis(value), nil
		case uint64:
			return timex.Millis(int64(value)), nil
		case float64:
			return timex.Millis(int64(value)), nil
		default:
			return data, nil
		}
	}
}

func isNotFound(err error) bool {
	if os.IsNotExist(err) {
		return true
	}

	_, ok := err.(viper.ConfigFileNotFoundError)

	return ok
}

func getEnvPropertyFileName(baseFileName string) string {
	env := os.Getenv("ENVIRONMENT")
	if !checkIfLocalEnv(env) {
		return fmt.Sprintf("%s-%s.yaml", baseFileName, strings.ToLower(env))
	}

	return fmt.Sprintf("%s.yaml", baseFileName)
}

func checkIfLocalEnv(env string) bool {
	switch strings.ToUpper(env) {
	case "DEV", "STAGE", "PROD":
		return false
	default:
		return true
	}
}
