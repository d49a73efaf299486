package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// searched for config.{yaml,json,toml} on linux, besides working dir
const defCfgPath = "/etc/livestream/"

// env variables are LIVESTREAM_<KEY> with . and - replaced by _
const envPrefix = "LIVESTREAM"

var rootCmd = &cobra.Command{
	Use:     "livestream",
	Short:   "Live HLS transcoding server CLI.",
	Long:    `On-demand live HLS transcoding of library items.`,
	Version: "1.0.0",
}

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

func init() {
	var cfgFile string
	var logging logConfig

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	if err := logging.Init(rootCmd); err != nil {
		panic(err)
	}

	cobra.OnInitialize(func() {
		loadConfiguration(cfgFile)

		logging.Set()
		initLogging(logging)

		watchConfiguration(&logging)
	})
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfiguration(cfgFile string) {
	// .env only fills variables missing from the real environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("unable to load .env file")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		if runtime.GOOS == "linux" {
			viper.AddConfigPath(defCfgPath)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err == nil {
		return
	}

	if cfgFile != "" {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		log.Warn().Err(err).Msg("unable to read config file")
	}
}

// watchConfiguration reloads the log level when the config file changes,
// everything else is read once on start.
func watchConfiguration(logging *logConfig) {
	file := viper.ConfigFileUsed()
	if file == "" {
		log.Warn().Msg("preflight complete without config file")
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("op", e.Op.String()).Str("config", e.Name).Msg("config file changed")

		logging.Set()
		setLogLevel(logging.Level)
	})
	viper.WatchConfig()

	log.Info().Str("config", file).Msg("preflight complete with config file")
}
