// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Command gen-schema writes the policy document JSON Schema. With --check it
// only reports whether the committed schema is current.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/rowguard/rowguard/internal/access/policy"
)

func main() {
	out := pflag.StringP("out", "o", filepath.Join("schemas", "policy-document.schema.json"), "output path")
	check := pflag.Bool("check", false, "fail if the file at --out is out of date instead of writing it")
	pflag.Parse()

	if err := run(*out, *check); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(outPath string, check bool) error {
	schema, err := policy.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	if check {
		current, err := os.ReadFile(outPath)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, schema) {
			return fmt.Errorf("%s is out of date; run gen-schema", outPath)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	fmt.Printf("Generated %s\n", outPath)
	return nil
}
