// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/internal/access/policy/store"
)

// openDocumentStore is replaced in tests.
var openDocumentStore = func(ctx context.Context, databaseURL string) (store.DocumentStore, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

// NewPolicyCmd creates the policy subcommand for the PostgreSQL document
// store.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage stored policy documents",
		Long: `Publish, list and activate policy documents in PostgreSQL. Running
servers reload within moments of a change.`,
	}

	var note, createdBy string
	publish := &cobra.Command{
		Use:   "publish <file>",
		Short: "Validate a document and make it the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return oops.Code(policy.CodeDocumentInvalid).With("path", args[0]).Wrap(err)
			}
			return withDocumentStore(cmd, func(ctx context.Context, docs store.DocumentStore) error {
				stored, err := policy.Publish(ctx, docs, policy.NewCompiler(), body, note, createdBy)
				if err != nil {
					return err
				}
				cmd.Printf("Published %s (version %s)\n", stored.ID, stored.Version)
				return nil
			})
		},
	}
	publish.Flags().StringVar(&note, "note", "", "note stored with the document")
	publish.Flags().StringVar(&createdBy, "by", os.Getenv("USER"), "author recorded with the document")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDocumentStore(cmd, func(ctx context.Context, docs store.DocumentStore) error {
				all, err := docs.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tVERSION\tACTIVE\tCREATED\tBY\tNOTE")
				for _, d := range all {
					active := ""
					if d.Active {
						active = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						d.ID, d.Version, active, d.CreatedAt.Format(time.RFC3339), d.CreatedBy, d.Note)
				}
				return tw.Flush()
			})
		},
	}

	activate := &cobra.Command{
		Use:   "activate <id>",
		Short: "Make a stored document the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocumentStore(cmd, func(ctx context.Context, docs store.DocumentStore) error {
				doc, err := docs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				// Stored documents may predate a compiler change.
				parsed, err := policy.ParseDocument(doc.Body)
				if err != nil {
					return err
				}
				if _, err := policy.NewCompiler().Compile(parsed); err != nil {
					return err
				}
				if err := docs.Activate(ctx, doc.ID); err != nil {
					return err
				}
				cmd.Printf("Activated %s (version %s)\n", doc.ID, doc.Version)
				return nil
			})
		},
	}

	cmd.AddCommand(publish, list, activate)
	return cmd
}

func withDocumentStore(cmd *cobra.Command, fn func(context.Context, store.DocumentStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url or DATABASE_URL is required")
	}

	ctx := cmd.Context()
	docs, closeFn, err := openDocumentStore(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer closeFn()
	return fn(ctx, docs)
}
