// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/expr"
	"github.com/rowguard/rowguard/pkg/errutil"
)

type evalOptions struct {
	text    bool
	data    string
	user    string
	params  string
	globals string
}

// NewEvalCmd creates the eval subcommand.
func NewEvalCmd() *cobra.Command {
	opts := &evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression",
		Long: `Evaluate an expression against optional data, user, params and globals
and print the JSON result. The expression is JSON unless --text is set.`,
		Example: `  rowguard eval --text 'or(eq(isPublic, true), eq(authorId, user.id))' \
    --data '{"isPublic": false, "authorId": "u1"}' --user '{"id": "u1"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.text, "text", false, "parse the expression as text shorthand")
	cmd.Flags().StringVar(&opts.data, "data", "", "record as a JSON object")
	cmd.Flags().StringVar(&opts.user, "user", "", `user as JSON, e.g. {"id":"u1","roles":["admin"]}`)
	cmd.Flags().StringVar(&opts.params, "params", "", "params as a JSON object")
	cmd.Flags().StringVar(&opts.globals, "globals", "", "globals as a JSON object")

	return cmd
}

func runEval(cmd *cobra.Command, opts *evalOptions, src string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var node expr.Node
	if opts.text {
		node, err = expr.ParseText(src)
	} else {
		node, err = expr.Parse([]byte(src))
	}
	if err != nil {
		return err
	}

	data, err := parseObject("data", opts.data)
	if err != nil {
		return err
	}
	params, err := parseObject("params", opts.params)
	if err != nil {
		return err
	}
	globals, err := parseObject("globals", opts.globals)
	if err != nil {
		return err
	}
	user, err := parseUser(opts.user)
	if err != nil {
		return err
	}

	c := expr.NewContext(data, user.ExprUser(), params, globals)
	r := expr.NewEvaluator().EvaluateValue(node, c, cfg.Budget())
	out := cmd.OutOrStdout()
	if r.Err != nil {
		fmt.Fprintf(out, "error: %s (%s)\n", errutil.Code(r.Err), r.Kind)
		return r.Err
	}

	b, err := json.Marshal(r.Value)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(b))
	return nil
}
