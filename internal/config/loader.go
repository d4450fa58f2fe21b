package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g.
// HEMESCREEN_DOCKING_WORKERS=8.
const EnvPrefix = "HEMESCREEN"

// Load builds the runtime configuration. configFile may be empty, in
// which case hemescreen.yaml is looked up in the working directory and
// in $HOME/.config/hemescreen/; a missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("hemescreen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hemescreen")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.command", []string{"run_GalaxyDock2_heme.py"})
	v.SetDefault("engine.home", "")
	v.SetDefault("engine.kill_grace", 5*time.Second)

	v.SetDefault("docking.workers", 4)
	v.SetDefault("docking.timeout", 10*time.Minute)
	v.SetDefault("docking.launch_rate", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.structured", false)

	v.SetDefault("status.addr", "")
	v.SetDefault("status.read_timeout", 5*time.Second)
	v.SetDefault("status.write_timeout", 10*time.Second)
	v.SetDefault("status.shutdown_timeout", 5*time.Second)
}
