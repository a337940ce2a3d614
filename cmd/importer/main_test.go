package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/config"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/importer"
)

func writeRecords(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "descriptors.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write records: %v", err)
	}
	return path
}

func TestRun_DryRunWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeRecords(t, `[
		{"code": "A1", "criterionName": "Prepares the work area", "skillNames": ["Joinery"]},
		{"code": "A2", "criterionName": "", "skillNames": ["Joinery"]}
	]`)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-dry-run", path}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	var report importer.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, out.String())
	}
	if report.Read != 2 || report.Created != 0 || report.Skipped != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Index != 1 {
		t.Errorf("expected record 1 to be reported, got %+v", report.Errors)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{name: "no location", args: nil, want: errMissingLocation},
		{name: "write without database", args: []string{"descriptors.json"}, want: config.ErrMissingDatabaseURL},
		{name: "bad s3 location", args: []string{"-dry-run", "s3://bucket-only"}, want: importer.ErrInvalidLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			var out bytes.Buffer
			err := run(context.Background(), tt.args, &out)
			if !errors.Is(err, tt.want) {
				t.Errorf("run() error = %v, want %v", err, tt.want)
			}
		})
	}
}
