package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eternnoir/chunkscribe/pkg/config"
	"github.com/eternnoir/chunkscribe/pkg/logger"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chunkscribe",
	Short: "Chunked transcription coordination pipeline",
	Long: `chunkscribe coordinates the processing of long audio recordings as
independent overlapping chunks and reassembles one consistent transcript.

Features:
- Silence-aware chunk boundary planning with overlap padding
- Atomic per-conversation chunk state machine with resume-after-failure
- Parallel or sequential chunk execution
- Cross-chunk speaker identity reconciliation
- Idempotent transcript merge with overlap deduplication`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chunkscribe.yaml)")
	rootCmd.PersistentFlags().String("db", "", "path to the state database")
	rootCmd.PersistentFlags().String("mode", "parallel", "processing mode (parallel, sequential)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("log-output", "stderr", "log output (stdout, stderr, file path)")
	rootCmd.PersistentFlags().Bool("log-no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().Bool("log-caller", false, "include caller information in logs")

	// Bind flags to viper
	_ = viper.BindPFlag("store.db_path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("pipeline.mode", rootCmd.PersistentFlags().Lookup("mode"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.output", rootCmd.PersistentFlags().Lookup("log-output"))
	_ = viper.BindPFlag("logging.no_color", rootCmd.PersistentFlags().Lookup("log-no-color"))
	_ = viper.BindPFlag("logging.caller", rootCmd.PersistentFlags().Lookup("log-caller"))

	// Environment variable bindings
	viper.SetEnvPrefix("CHUNKSCRIBE")
	viper.AutomaticEnv()
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".chunkscribe")
	}

	configFileUsed := ""
	if err := viper.ReadInConfig(); err == nil {
		configFileUsed = viper.ConfigFileUsed()
	}

	initLogger()

	if configFileUsed != "" {
		logger.Info().Str("config_file", configFileUsed).Msg("Loaded configuration file")
	}
}

// initLogger initializes the logger based on configuration
func initLogger() {
	cfg := config.DefaultConfig()

	cfg.Logging.Level = viper.GetString("logging.level")
	cfg.Logging.Format = viper.GetString("logging.format")
	cfg.Logging.Output = viper.GetString("logging.output")
	cfg.Logging.Caller = viper.GetBool("logging.caller")
	cfg.Logging.NoColor = viper.GetBool("logging.no_color")

	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the full application config with flag overrides
// applied.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader(cfgFile)
	overrides := map[string]interface{}{}
	if db := viper.GetString("store.db_path"); db != "" {
		overrides["store.db_path"] = db
	}
	if mode := viper.GetString("pipeline.mode"); mode != "" {
		overrides["pipeline.mode"] = mode
	}
	return loader.LoadWithOverrides(overrides)
}
