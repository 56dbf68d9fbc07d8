// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/access/decisionapi"
	"github.com/rowguard/rowguard/internal/access/fieldmask"
	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/internal/access/policy/types"
)

type checkOptions struct {
	resource string
	action   string
	user     string
	data     string
	where    string
}

// checkResult is everything the engine answers for one policy context.
type checkResult struct {
	Decision  decisionapi.DecisionResponse `json:"decision"`
	RowFilter types.RowFilter              `json:"row_filter"`
	Fields    types.AllowedFields          `json:"fields"`
	Record    map[string]any               `json:"record,omitempty"`
}

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check access against a policy document",
		Long: `Evaluate a policy context against the document given by --policies and
print the decision, the row filter and the allowed fields. With --data the
record is also printed as the caller would see it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.resource, "resource", "", "resource name")
	cmd.Flags().StringVar(&opts.action, "action", "", "action (create, read, update, delete)")
	cmd.Flags().StringVar(&opts.user, "user", "", "user as JSON")
	cmd.Flags().StringVar(&opts.data, "data", "", "record as a JSON object")
	cmd.Flags().StringVar(&opts.where, "where", "", "equality constraints as a JSON object")
	_ = cmd.MarkFlagRequired("resource") //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("action")   //nolint:errcheck // flag is defined above

	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	doc, err := policy.LoadDocument(cfg.Policy.File)
	if err != nil {
		return err
	}
	snap, err := policy.NewCompiler().Compile(doc)
	if err != nil {
		return err
	}

	action, err := types.ParseAction(opts.action)
	if err != nil {
		return err
	}
	user, err := parseUser(opts.user)
	if err != nil {
		return err
	}
	data, err := parseObject("data", opts.data)
	if err != nil {
		return err
	}
	where, err := parseObject("where", opts.where)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	engine := policy.NewEngine(policy.Static(snap), policy.WithBudget(cfg.Budget()))
	pc := types.PolicyContext{User: user, Resource: opts.resource, Action: action, Where: where, Data: data}

	result := checkResult{
		Decision:  decisionapi.NewDecisionResponse(engine.Decide(ctx, pc)),
		RowFilter: engine.ApplyRowFilter(ctx, pc),
		Fields:    engine.AllowedFields(ctx, pc),
	}
	if data != nil && result.Decision.Allowed {
		result.Record = fieldmask.MaskResponse(engine.ComputeFields(ctx, pc, data), result.Fields.Read)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
