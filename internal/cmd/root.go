package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/termhost/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "termhost",
	Short: "Terminal process host for a desktop UI",
	Long: `termhost runs shells and coding agents in pseudo-terminals on behalf of
a UI process. Output is delivered over shared-memory rings with flow control,
and the host reports busy/idle activity for every terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/termhost/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
}

// bindFlags connects flags to their viper keys.
func bindFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("metrics.addr", serveCmd.Flags().Lookup("metrics-addr"))
}

func initConfig() {
	bindFlags()

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/termhost")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TERMHOST")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TERMHOST_FLOW_MAX_PAUSE for flow.max_pause
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
