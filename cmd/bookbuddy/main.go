// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the bookbuddy search CLI. It serves
// the paginated book search API and offers one-shot searches and cache
// maintenance from the command line.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/bookbuddy-search/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from the secrets directory at startup.
var loadedSecrets secrets.Secrets

// logger is configured in PersistentPreRunE from log.level and log.format.
var logger = logrus.NewEntry(logrus.StandardLogger())

// rootCmd is the base command for the bookbuddy CLI.
var rootCmd = &cobra.Command{
	Use:   "bookbuddy",
	Short: "Paginated, relevance-ranked book search",
	Long: `bookbuddy turns free-text book queries into stable, relevance-ranked pages
sourced from the Google Books catalog. Each logical search keeps a server-side
session so later pages never repeat earlier results.

Use serve to run the HTTP API, search for one-shot searches from the terminal,
and cache to inspect or prune the volume detail cache.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(viper.GetString("log.level"), viper.GetString("log.format"))

		s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if keys := s.Keys(); len(keys) > 0 {
			logger.WithField("keys", keys).Debug("loaded secrets")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setDefaults()

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./bookbuddy.yaml or ~/.config/bookbuddy/bookbuddy.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of secret files")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("secrets_dir", rootCmd.PersistentFlags().Lookup("secrets-dir"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("bookbuddy")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "bookbuddy"))
		}
	}

	viper.SetEnvPrefix("BOOKBUDDY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
