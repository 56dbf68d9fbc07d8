// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/access/policy"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a policy document",
		Long: `Load and compile a policy document, then print each policy with the
row filter strategy it compiled to.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := policy.LoadDocument(args[0])
	if err != nil {
		return err
	}
	snap, err := policy.NewCompiler().Compile(doc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: version %s, %d resources, %d policies\n",
		args[0], snap.Version(), len(doc.Resources), snap.Len())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, p := range snap.Policies() {
		mode := "post_fetch"
		if p.RowFilterTranslatable() {
			mode = "store"
		}
		fmt.Fprintf(tw, "  %s\trow filter: %s\n", p.Key(), mode)
	}
	return tw.Flush()
}
