// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opentrusty/gristgate/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gristgate",
		Short:         "Multi-tenant gateway in front of Grist",
		Long:          "gristgate exposes Grist documents to agents through a tool channel and a session-token HTTP proxy.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newInitConfigCommand())
	root.AddCommand(newMCPConfigCommand())
	root.AddCommand(newMigrateCommand())

	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a template gateway file at CONFIG_PATH if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			created, err := config.EnsureGatewayFile(cfg.Gateway.ConfigPath)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created template configuration at %s\n", cfg.Gateway.ConfigPath)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at %s\n", cfg.Gateway.ConfigPath)
			}
			return nil
		},
	}
}

func newMCPConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-config",
		Short: "Print tool-channel client configuration for every configured token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			gw, err := config.LoadGateway(cfg.Gateway.ConfigPath)
			if err != nil {
				return err
			}

			for _, line := range config.ClientConfigLines(cfg.ClientURL(), gw.Tokens) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
