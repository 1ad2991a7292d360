// Package gfal implements the copytool.Copytool contract by shelling out to
// the gfal2-util CLI (gfal-copy). The GFAL wire dialect itself is out of
// scope for this repository (spec.md §1) — this package only needs to
// satisfy the contract, the way agent/internal/restic.Wrapper shells out to
// the restic binary and parses its stdout in the teacher.
package gfal

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

// allowedSchemas is the prioritized list of URL schemes this backend speaks,
// matching original_source/pilot/copytool/gfal.py's module-level constant.
var allowedSchemas = []string{"srm", "gsiftp", "https", "davs", "root"}

// Tool wraps the gfal-copy binary. Create with New.
type Tool struct {
	binary  string
	timeout func(fileSize int64) int // seconds, monotone increasing in size
}

// New returns a Tool that invokes binary (typically "gfal-copy" on PATH).
func New(binary string) *Tool {
	if binary == "" {
		binary = "gfal-copy"
	}
	return &Tool{binary: binary, timeout: defaultTimeout}
}

func (t *Tool) Name() string            { return "gfal" }
func (t *Tool) RequireReplicas() bool    { return true }
func (t *Tool) RequireProtocols() bool   { return false }
func (t *Tool) AllowedSchemas() []string { return allowedSchemas }

func (t *Tool) IsValidForCopyIn(files []*model.FileSpec) bool {
	return len(files) > 0
}

func (t *Tool) IsValidForCopyOut(files []*model.FileSpec) bool {
	return len(files) > 0
}

func (t *Tool) CopyIn(ctx context.Context, files []*model.FileSpec) error {
	for _, f := range files {
		if f.TURL == "" {
			return taxonomy.New(taxonomy.StageInFailed, map[string]any{"lfn": f.LFN}, "no turl resolved for stage-in")
		}
		dst := f.WorkDir + "/" + f.LFN
		if err := t.run(ctx, f.FileSize, "-f", f.TURL, dst); err != nil {
			return classify(err, taxonomy.StageInFailed, f)
		}
		f.Status = model.FileStatusTransferred
		f.StatusCode = 0
	}
	return nil
}

func (t *Tool) CopyOut(ctx context.Context, files []*model.FileSpec) error {
	for _, f := range files {
		if f.SURL == "" {
			return taxonomy.New(taxonomy.MissingOutputFile, map[string]any{"lfn": f.LFN}, "output file missing: no surl resolved")
		}
		src := f.WorkDir + "/" + f.LFN
		if err := t.run(ctx, f.FileSize, "-f", src, f.SURL); err != nil {
			return classify(err, taxonomy.StageOutFailed, f)
		}
		f.Status = model.FileStatusTransferred
		f.StatusCode = 0
		f.TURL = f.SURL
	}
	return nil
}

// run invokes gfal-copy with a timeout derived from fileSize (spec §5:
// "per-file stage-in/out timeout is derived from filesize ... monotone
// increasing").
func (t *Tool) run(ctx context.Context, fileSize int64, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.timeout(fileSize))*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gfal-copy failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// classify maps a generic exec error to a recoverable taxonomy.Error, except
// when the failure is an absent output file on stage-out, which is fatal
// (spec §4.3's tie-break rules; §7).
func classify(err error, code taxonomy.Code, f *model.FileSpec) error {
	f.Status = model.FileStatusFailed
	msg := err.Error()
	if strings.Contains(msg, "No such file") && code == taxonomy.StageOutFailed {
		f.StatusCode = int(taxonomy.MissingOutputFile)
		return taxonomy.New(taxonomy.MissingOutputFile, map[string]any{"lfn": f.LFN}, msg)
	}
	f.StatusCode = int(code)
	return taxonomy.New(code, map[string]any{"lfn": f.LFN}, msg)
}

func defaultTimeout(fileSize int64) int {
	// Baseline 5 minutes plus one second per 10MB, uncapped — monotone
	// increasing in size per spec §5.
	return 300 + int(fileSize/(10*1024*1024))
}
