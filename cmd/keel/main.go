/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tomoncle/keel/config"
	"github.com/tomoncle/keel/database"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Println(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var conf string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "keel",
		Short:         "Inspect keel configuration and database connectivity",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(conf)
			if err != nil {
				return err
			}
			loaded.ApplyLogging()
			cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&conf, "config", "c", "", "Path to a YAML or TOML configuration file")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printYAML(cmd.OutOrStdout(), cfg)
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Connect and print server properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), cfg, func(ctx context.Context) error {
				u, err := database.NewRequestUnitOfWork()
				if err != nil {
					return err
				}
				props, err := u.ServerProperties(ctx)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), map[string]any{
					"server": props,
					"health": database.GetHealthStatus(ctx),
				})
			})
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Print database health and pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), cfg, func(ctx context.Context) error {
				return printYAML(cmd.OutOrStdout(), map[string]any{
					"health": database.GetHealthStatus(ctx),
					"stats":  database.GetDatabaseStats(),
				})
			})
		},
	}

	rootCmd.AddCommand(configCmd, infoCmd, healthCmd)
	return rootCmd
}

// withDatabase connects without running migrations, so inspection never
// changes the schema.
func withDatabase(ctx context.Context, cfg *config.Config, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := database.InitDatabaseWithOptions(&cfg.Database, false); err != nil {
		return err
	}
	defer func() {
		if err := database.CloseDB(); err != nil {
			logrus.Warnf("close database: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return fn(ctx)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
