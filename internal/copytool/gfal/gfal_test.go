package gfal

import (
	"context"
	"testing"

	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

func TestNewDefaultsBinary(t *testing.T) {
	tool := New("")
	if tool.binary != "gfal-copy" {
		t.Fatalf("expected default binary gfal-copy, got %q", tool.binary)
	}
}

func TestToolIdentity(t *testing.T) {
	tool := New("")
	if tool.Name() != "gfal" {
		t.Fatalf("expected name gfal, got %q", tool.Name())
	}
	if !tool.RequireReplicas() {
		t.Fatal("expected RequireReplicas true")
	}
	if tool.RequireProtocols() {
		t.Fatal("expected RequireProtocols false")
	}
	schemas := tool.AllowedSchemas()
	if len(schemas) == 0 || schemas[0] != "srm" {
		t.Fatalf("expected srm first in allowed schemas, got %v", schemas)
	}
}

func TestIsValidForCopyInOut(t *testing.T) {
	tool := New("")
	if tool.IsValidForCopyIn(nil) {
		t.Fatal("expected invalid for empty file batch")
	}
	if !tool.IsValidForCopyIn([]*model.FileSpec{{}}) {
		t.Fatal("expected valid for non-empty file batch")
	}
	if !tool.IsValidForCopyOut([]*model.FileSpec{{}}) {
		t.Fatal("expected valid for non-empty file batch")
	}
}

func TestCopyInRequiresTURL(t *testing.T) {
	tool := New("")
	files := []*model.FileSpec{{LFN: "file.root", WorkDir: "/tmp"}}
	err := tool.CopyIn(context.Background(), files)
	if !taxonomy.Is(err, taxonomy.StageInFailed) {
		t.Fatalf("expected StageInFailed for missing TURL, got %v", err)
	}
}

func TestCopyOutRequiresSURL(t *testing.T) {
	tool := New("")
	files := []*model.FileSpec{{LFN: "file.root", WorkDir: "/tmp"}}
	err := tool.CopyOut(context.Background(), files)
	if !taxonomy.Is(err, taxonomy.MissingOutputFile) {
		t.Fatalf("expected MissingOutputFile for missing SURL, got %v", err)
	}
	if !taxonomy.FatalErr(err) {
		t.Fatal("expected MissingOutputFile to be fatal")
	}
}

func TestDefaultTimeoutMonotoneInSize(t *testing.T) {
	small := defaultTimeout(0)
	large := defaultTimeout(1024 * 1024 * 1024)
	if small != 300 {
		t.Fatalf("expected baseline 300s for zero size, got %d", small)
	}
	if large <= small {
		t.Fatalf("expected timeout to grow with file size: small=%d large=%d", small, large)
	}
}

func TestClassifyMissingOutputFileOnStageOut(t *testing.T) {
	f := &model.FileSpec{LFN: "out.root"}
	err := classify(errNoSuchFile(), taxonomy.StageOutFailed, f)
	if !taxonomy.Is(err, taxonomy.MissingOutputFile) {
		t.Fatalf("expected MissingOutputFile, got %v", err)
	}
	if f.Status != model.FileStatusFailed {
		t.Fatal("expected file status to be marked failed")
	}
}

func TestClassifyOrdinaryStageInFailure(t *testing.T) {
	f := &model.FileSpec{LFN: "in.root"}
	err := classify(errGeneric(), taxonomy.StageInFailed, f)
	if !taxonomy.Is(err, taxonomy.StageInFailed) {
		t.Fatalf("expected StageInFailed, got %v", err)
	}
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func errNoSuchFile() error { return &testErr{msg: "gfal-copy failed: exit status 1: No such file or directory"} }
func errGeneric() error    { return &testErr{msg: "gfal-copy failed: exit status 1: connection refused"} }
