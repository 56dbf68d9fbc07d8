// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/pkg/errutil"
)

type fakeMigrator struct {
	upErr    error
	version  uint
	dirty    bool
	pending  []uint
	calls    []string
	forced   int
	closeErr error
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, nil
}

func (f *fakeMigrator) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return nil
}

func (f *fakeMigrator) Pending() ([]uint, error) {
	return f.pending, nil
}

func (f *fakeMigrator) Close() error {
	f.calls = append(f.calls, "close")
	return f.closeErr
}

func useMigrator(t *testing.T, m *fakeMigrator) *string {
	t.Helper()
	var gotURL string
	orig := newMigrator
	newMigrator = func(url string) (schemaMigrator, error) {
		gotURL = url
		return m, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &gotURL
}

func TestMigrate_Up(t *testing.T) {
	m := &fakeMigrator{}
	gotURL := useMigrator(t, m)

	out, err := execute(t, nil, "migrate", "--database-url", "postgres://localhost/rowguard")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/rowguard", *gotURL)
	assert.Equal(t, []string{"up", "close"}, m.calls)
	assert.Contains(t, out, "Migrations completed successfully")
}

func TestMigrate_UpFailure(t *testing.T) {
	m := &fakeMigrator{upErr: errors.New("boom")}
	useMigrator(t, m)

	_, err := execute(t, nil, "migrate", "--database-url", "postgres://localhost/rowguard")
	require.Error(t, err)
	assert.Equal(t, []string{"up", "close"}, m.calls, "migrator closed on failure")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	useMigrator(t, &fakeMigrator{})

	_, err := execute(t, nil, "migrate")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestMigrate_Down(t *testing.T) {
	m := &fakeMigrator{}
	useMigrator(t, m)

	out, err := execute(t, nil, "migrate", "down", "--database-url", "postgres://x/y")
	require.NoError(t, err)
	assert.Equal(t, []string{"down", "close"}, m.calls)
	assert.Contains(t, out, "rolled back")
}

func TestMigrate_Status(t *testing.T) {
	tests := []struct {
		name string
		m    *fakeMigrator
		want []string
	}{
		{
			name: "pending",
			m:    &fakeMigrator{version: 1, pending: []uint{2}},
			want: []string{"Schema version: 1 (clean)", "Pending: 000002_decision_audit_log"},
		},
		{
			name: "up to date and dirty",
			m:    &fakeMigrator{version: 2, dirty: true},
			want: []string{"Schema version: 2 (dirty)", "No pending migrations"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useMigrator(t, tt.m)

			out, err := execute(t, nil, "migrate", "status", "--database-url", "postgres://x/y")
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestMigrate_Force(t *testing.T) {
	m := &fakeMigrator{}
	useMigrator(t, m)

	out, err := execute(t, nil, "migrate", "force", "1", "--database-url", "postgres://x/y")
	require.NoError(t, err)
	assert.Equal(t, 1, m.forced)
	assert.Contains(t, out, "Schema version forced to 1")
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "3", want: 3},
		{input: "0", want: 0},
		{input: " 2 ", want: 2},
		{input: "abc", wantErr: true},
		{input: "1.5", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
