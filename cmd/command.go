// Copyright 2025 Tidegate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tidegate/tidegate/pkg/logger"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "tidegate",
	Short: "Tidegate - an object storage gateway",
	Long: `Tidegate is the mutation front of an object store: it evaluates HTTP
preconditions, guards metadata writes with etag-based concurrency control,
and manages the multipart-upload lifecycle over an external metadata store.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config_dir", ".", "Directory for configuration files")
}

// loadConfiguration reads tidegate.{yaml,toml,json} from the config
// directory, if present, and binds TIDEGATE_* environment variables.
func loadConfiguration(name string) {
	viper.SetConfigName(name)
	viper.AddConfigPath(configDir)
	viper.SetEnvPrefix("tidegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			logger.Warn().Err(err).Msg("failed to read configuration file")
		}
	} else {
		logger.Info().Str("file", viper.ConfigFileUsed()).Msg("configuration loaded")
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
