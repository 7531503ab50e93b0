// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	data := []byte("[log]\nlevel = \"info\"\n")

	if err := AtomicWriteFile(path, data, 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := AtomicWriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("new"), 0600); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "new" {
		t.Errorf("content = %q, want 'new'", content)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no leftover temp files, found %d entries", len(entries))
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "SELECT 1", 20, "SELECT 1"},
		{"exact", "abcdef", 6, "abcdef"},
		{"cut", "SELECT * FROM work_orders", 10, "SELECT ..."},
		{"tiny", "abcdef", 2, "ab"},
		{"zero", "abc", 0, ""},
		{"multibyte", "héllo wörld", 6, "hél..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateRunes(tt.in, tt.max); got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	if got := TruncateWidth("plain", 10); got != "plain" {
		t.Errorf("TruncateWidth short = %q", got)
	}
	got := TruncateWidth("日本語テキスト", 8)
	if StringWidth(got) > 8 {
		t.Errorf("TruncateWidth width = %d, want <= 8 (%q)", StringWidth(got), got)
	}
	if TruncateWidth("abc", 0) != "" {
		t.Error("TruncateWidth with zero width should be empty")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"A-001", "A-001"},
		{[]byte("blob"), "blob"},
		{int64(42), "42"},
		{3.5, "3.5"},
		{true, "1"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	got, err := ResolvePath("data/db1.db", base)
	if err != nil {
		t.Fatalf("ResolvePath failed: %v", err)
	}
	if want := filepath.Join(base, "data", "db1.db"); got != want {
		t.Errorf("ResolvePath = %q, want %q", got, want)
	}
	if _, err := ResolvePath("", base); err == nil {
		t.Error("expected error for empty path")
	}
}
