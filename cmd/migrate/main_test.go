package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDiscoverMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"002_reports.sql":       "CREATE TABLE b();",
		"001_ledger_schema.sql": "CREATE TABLE a();",
		"README.md":             "ignored",
	})
	got, err := discoverMigrations(dir)
	if err != nil {
		t.Fatalf("discoverMigrations: %v", err)
	}
	if len(got) != 2 || got[0].Version != "001" || got[1].Filename != "002_reports.sql" {
		t.Fatalf("got %+v", got)
	}
	if len(got[0].Checksum) != 64 || got[0].Checksum == got[1].Checksum {
		t.Errorf("checksums %q %q", got[0].Checksum, got[1].Checksum)
	}
}

func TestDiscoverMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"duplicate version", map[string]string{"001_a.sql": "", "001_b.sql": ""}, "duplicate version"},
		{"no underscore", map[string]string{"schema.sql": ""}, "invalid migration filename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := discoverMigrations(writeFiles(t, tt.files))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
