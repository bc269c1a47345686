package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ameyarj/pica-testing-sub000/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "picatest",
	Short: "Dependency-aware API action test campaigns",
	Long: `Picatest runs large catalogs of API actions against a platform in a
dependency-safe order. Actions are grouped into batches, progress is
checkpointed as it goes, and an interrupted campaign resumes where it
stopped.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/picatest/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PICATEST")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PICATEST_SCHEDULER_BATCH_SIZE for scheduler.batch_size
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
