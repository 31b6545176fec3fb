package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/skyrelay/pkg/log"
)

const (
	configFlagName = "config"
	envPrefix      = "SKYRELAY"
)

var cfgFile string

func addConfigFlag(basename string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from the specified file, support JSON, TOML, YAML, HCL, or Java properties formats.")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("basename", basename)
}

// loadConfig binds fs into viper and reads the config file if one is set or
// found under the default search paths. Precedence is viper's: flags set on
// the command line, then SKYRELAY_* environment variables, then the file,
// then flag defaults.
func loadConfig(basename string, fs *pflag.FlagSet) error {
	if err := viper.BindPFlags(fs); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".skyrelay"))
		}
		viper.AddConfigPath("/etc/skyrelay")
		viper.SetConfigName(basename)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read configuration file(%s): %w", cfgFile, err)
		}
	}
	return nil
}

// watchConfig logs edits to the config file. Configuration is fixed for the
// lifetime of a run, so changes only take effect after a restart.
func watchConfig() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Warn("Configuration file changed, restart to apply", "file", e.Name, "op", e.Op.String())
	})
	viper.WatchConfig()
}
