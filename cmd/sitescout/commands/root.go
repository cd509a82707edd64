// Package commands implements the CLI commands for sitescout.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/sitescout/internal/config"
	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "sitescout",
	Short: "Discover every page of a website",
	Long: `Sitescout maps a website: it resolves the domain and its subdomains,
reads existing sitemaps, guesses common URL patterns and deep-crawls the
result into a titled URL list.

Examples:
  # Crawl a site and write a sitemap and a CSV of titles
  sitescout crawl example.org --sitemap sitemap.xml --csv urls.csv

  # Keep snapshots in sqlite while crawling
  sitescout crawl example.org --snapshot-dsn sitescout.db

  # Run the HTTP service
  sitescout serve --addr :5000`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version.String(),
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.sitescout.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".sitescout")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// a missing config file is fine
	_ = v.ReadInConfig()
}

// loadConfig resolves the configuration and initializes the logger from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}
	opts := cfg.LoggerOptions()
	opts.Debug = viper.GetBool("debug")
	opts.Quiet = viper.GetBool("quiet")
	logger.Init(opts)

	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("config file loaded", "path", used)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
