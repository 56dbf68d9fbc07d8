// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package fieldmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func post() map[string]any {
	return map[string]any{
		"id":       "p1",
		"title":    "Hello",
		"body":     "secret",
		"authorId": "u1",
		"author": map[string]any{
			"name":  "Ada",
			"email": "ada@example.com",
		},
		"tags": []any{"go", "rls"},
		"comments": []any{
			map[string]any{"id": "c1", "text": "hi", "ip": "10.0.0.1"},
			map[string]any{"id": "c2", "text": "yo", "ip": "10.0.0.2"},
			"not-an-object",
		},
	}
}

func TestMaskResponse(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		want    map[string]any
	}{
		{
			name:    "top-level keys",
			allowed: []string{"id", "title"},
			want:    map[string]any{"id": "p1", "title": "Hello"},
		},
		{
			name:    "nested object",
			allowed: []string{"id", "author.name"},
			want:    map[string]any{"id": "p1", "author": map[string]any{"name": "Ada"}},
		},
		{
			name:    "whole key wins over nested entry",
			allowed: []string{"author.name", "author"},
			want: map[string]any{"author": map[string]any{
				"name":  "Ada",
				"email": "ada@example.com",
			}},
		},
		{
			name:    "array of objects masked per element",
			allowed: []string{"comments.text"},
			want: map[string]any{"comments": []any{
				map[string]any{"text": "hi"},
				map[string]any{"text": "yo"},
			}},
		},
		{
			name:    "nested entry on scalar dropped",
			allowed: []string{"title.length"},
			want:    map[string]any{},
		},
		{
			name:    "unknown and empty entries ignored",
			allowed: []string{"missing", "", "id"},
			want:    map[string]any{"id": "p1"},
		},
		{
			name:    "nothing allowed",
			allowed: nil,
			want:    map[string]any{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskResponse(post(), tt.allowed))
		})
	}
}

func TestMaskResponse_NilRecord(t *testing.T) {
	got := MaskResponse(nil, []string{"id"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMaskResponse_Idempotent(t *testing.T) {
	allowed := []string{"id", "author.name", "comments.id", "tags"}
	once := MaskResponse(post(), allowed)
	assert.Equal(t, once, MaskResponse(once, allowed))
}

func TestMaskResponse_DoesNotShareOrMutate(t *testing.T) {
	record := post()
	got := MaskResponse(record, []string{"author", "tags"})

	got["author"].(map[string]any)["name"] = "changed"
	got["tags"].([]any)[0] = "changed"

	assert.Equal(t, post(), record)
}

func TestFilterWritable(t *testing.T) {
	input := map[string]any{
		"title":    "new",
		"authorId": "u2",
		"meta":     map[string]any{"pinned": true, "views": 10},
	}

	got := FilterWritable(input, []string{"title", "meta.pinned"})

	assert.Equal(t, map[string]any{
		"title": "new",
		"meta":  map[string]any{"pinned": true},
	}, got)
	assert.Equal(t, "u2", input["authorId"], "input untouched")
}

func TestFilterWritable_NothingWritable(t *testing.T) {
	assert.Empty(t, FilterWritable(map[string]any{"title": "x"}, []string{}))
}

func TestDropped(t *testing.T) {
	input := map[string]any{"title": "x", "authorId": "u2", "id": "p9", "meta": map[string]any{}}

	assert.Equal(t, []string{"authorId", "id"}, Dropped(input, []string{"title", "meta.pinned"}))
	assert.Empty(t, Dropped(input, []string{"title", "authorId", "id", "meta"}))
}
