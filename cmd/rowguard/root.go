// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"bytes"
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the rowguard CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(serveDeps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rowguard",
		Short: "rowguard - expression-based access policies",
		Long: `rowguard evaluates access policies written as expression trees and
answers access checks, row filters and field permissions for them.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewEvalCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(newServeCmd(serveDeps))
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPolicyCmd())

	return cmd
}

// loadConfig layers the config file and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}

// parseObject decodes a JSON object flag. An empty value yields nil.
func parseObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, oops.Code("INVALID_ARGUMENT").With("flag", flag).Wrapf(err, "--%s must be a JSON object", flag)
	}
	return out, nil
}

// parseUser decodes the --user flag. An empty value is an anonymous user.
func parseUser(raw string) (*types.User, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var u types.User
	if err := dec.Decode(&u); err != nil {
		return nil, oops.Code("INVALID_ARGUMENT").With("flag", "user").Wrapf(err, "--user must be a JSON object")
	}
	return &u, nil
}
