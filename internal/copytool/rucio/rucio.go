// Package rucio implements the copytool.Copytool contract on top of the
// "rucio download"/"rucio upload" CLI, mirroring the way restic.Wrapper in
// the teacher shells out to a single vendor binary rather than linking its
// SDK. The Rucio wire dialect itself is out of scope for this repository
// (spec.md §1).
package rucio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

// allowedSchemas matches the default rucio protocol preference order used by
// the teacher domain's grid sites.
var allowedSchemas = []string{"root", "davs", "srm", "gsiftp", "https"}

// Tool wraps the rucio CLI binary.
type Tool struct {
	binary string
}

// New returns a Tool invoking binary (typically "rucio" on PATH).
func New(binary string) *Tool {
	if binary == "" {
		binary = "rucio"
	}
	return &Tool{binary: binary}
}

func (t *Tool) Name() string            { return "rucio" }
func (t *Tool) RequireReplicas() bool   { return true }
func (t *Tool) RequireProtocols() bool  { return false }
func (t *Tool) AllowedSchemas() []string { return allowedSchemas }

func (t *Tool) IsValidForCopyIn(files []*model.FileSpec) bool {
	for _, f := range files {
		if f.Scope == "" || f.LFN == "" {
			return false
		}
	}
	return len(files) > 0
}

func (t *Tool) IsValidForCopyOut(files []*model.FileSpec) bool {
	return len(files) > 0
}

func (t *Tool) CopyIn(ctx context.Context, files []*model.FileSpec) error {
	for _, f := range files {
		did := f.Scope + ":" + f.LFN
		if err := t.run(ctx, "download", "--dir", f.WorkDir, "--no-subdir", did); err != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.StageInFailed)
			return taxonomy.New(taxonomy.StageInFailed, map[string]any{"lfn": f.LFN, "scope": f.Scope}, err.Error())
		}
		f.Status = model.FileStatusTransferred
		f.StatusCode = 0
	}
	return nil
}

func (t *Tool) CopyOut(ctx context.Context, files []*model.FileSpec) error {
	for _, f := range files {
		did := f.Scope + ":" + f.LFN
		src := f.WorkDir + "/" + f.LFN
		if err := t.run(ctx, "upload", "--rse", f.DDMEndpoint, "--name", f.LFN, "--scope", f.Scope, src); err != nil {
			f.Status = model.FileStatusFailed
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && strings.Contains(err.Error(), "no such file") {
				f.StatusCode = int(taxonomy.MissingOutputFile)
				return taxonomy.New(taxonomy.MissingOutputFile, map[string]any{"lfn": f.LFN, "did": did}, err.Error())
			}
			f.StatusCode = int(taxonomy.StageOutFailed)
			return taxonomy.New(taxonomy.StageOutFailed, map[string]any{"lfn": f.LFN, "did": did}, err.Error())
		}
		f.Status = model.FileStatusTransferred
		f.StatusCode = 0
	}
	return nil
}

func (t *Tool) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rucio %s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
