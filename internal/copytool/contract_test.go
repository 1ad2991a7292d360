package copytool

import (
	"context"
	"testing"

	"github.com/gridpilot/pilot/internal/model"
)

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string                                      { return f.name }
func (f *fakeTool) RequireReplicas() bool                              { return true }
func (f *fakeTool) RequireProtocols() bool                             { return false }
func (f *fakeTool) AllowedSchemas() []string                           { return []string{"root"} }
func (f *fakeTool) IsValidForCopyIn(files []*model.FileSpec) bool      { return true }
func (f *fakeTool) IsValidForCopyOut(files []*model.FileSpec) bool     { return true }
func (f *fakeTool) CopyIn(ctx context.Context, files []*model.FileSpec) error  { return nil }
func (f *fakeTool) CopyOut(ctx context.Context, files []*model.FileSpec) error { return nil }

func TestNewRegistryLookup(t *testing.T) {
	reg := NewRegistry(&fakeTool{name: "rucio"}, &fakeTool{name: "gfal"})

	tool, ok := reg.Lookup("rucio")
	if !ok || tool.Name() != "rucio" {
		t.Fatalf("expected to find rucio, got %+v, ok=%v", tool, ok)
	}

	if _, ok := reg.Lookup("missing"); ok {
		t.Fatal("expected Lookup to report false for unregistered name")
	}
}

func TestNewRegistryPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected NewRegistry to panic on duplicate Name()")
		}
	}()
	NewRegistry(&fakeTool{name: "rucio"}, &fakeTool{name: "rucio"})
}
