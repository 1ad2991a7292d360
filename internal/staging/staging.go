// Package staging implements the Staging Engine (spec §4.3): activity-based
// copytool selection, the direct-access policy, and the stage-in/stage-out
// pipelines that prepare FileSpecs before handing them to a copytool.Copytool.
// Grounded on original_source/pilot/api/data.py's StagingClient/StageInClient/
// StageOutClient, with the backend cascade-until-success loop generalized
// from fcostin-tcplb/lib/dialer.RetryDialer.DialBestUpstream.
package staging

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/gridpilot/pilot/internal/copytool"
	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/pfc"
	"github.com/gridpilot/pilot/internal/replica"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

// poolFileCatalogName is the filename the payload expects to find its Pool
// File Catalog under, matching original_source/pilot's PoolFileCatalog.xml
// convention (spec §6).
const poolFileCatalogName = "PoolFileCatalog.xml"

// writePoolFileCatalog renders the Pool File Catalog for files' resolved
// TURLs into workDir, so a ROOT-based payload can look up its inputs by
// GUID without knowing the storage protocol. A no-op if workDir is unset
// (e.g. in tests that don't exercise the filesystem).
func writePoolFileCatalog(workDir string, files []*model.FileSpec) error {
	if workDir == "" {
		return nil
	}

	entries := make([]pfc.Entry, 0, len(files))
	for _, f := range files {
		url := f.TURL
		if url == "" {
			url = f.SURL
		}
		if url == "" {
			continue
		}
		entries = append(entries, pfc.Entry{GUID: f.GUID, URL: url})
	}

	data, err := pfc.Write(entries)
	if err != nil {
		return taxonomy.New(taxonomy.FileHandlingFailure, map[string]any{"workdir": workDir}, err.Error())
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return taxonomy.New(taxonomy.FileHandlingFailure, map[string]any{"workdir": workDir}, err.Error())
	}
	if err := os.WriteFile(filepath.Join(workDir, poolFileCatalogName), data, 0o644); err != nil {
		return taxonomy.New(taxonomy.FileHandlingFailure, map[string]any{"workdir": workDir}, err.Error())
	}
	return nil
}

// Default schema priority lists, matching StagingClient's class attributes.
var (
	DirectRemoteInputAllowedSchemas  = []string{"root"}
	DirectLocalInputAllowedSchemas   = []string{"root", "dcache", "dcap", "file", "https"}
	RemoteInputAllowedSchemas        = []string{"root", "gsiftp", "dcap", "davs", "srm"}
)

// Engine dispatches stage-in/stage-out work across the registered copytools
// for a queue, honoring the direct-access policy and activity ordering.
type Engine struct {
	Registry   *copytool.Registry
	Resolver   *replica.Resolver
	Storage    *model.Config
	ACopytools map[string][]string // activity -> ordered copytool names, spec §3
}

// resolveCopytools returns the first non-empty copytool list for the given
// prioritized activity names, always falling back to "default" last —
// matching StagingClient.transfer's activity walk.
func (e *Engine) resolveCopytools(activities []string) ([]string, error) {
	seen := append(append([]string(nil), activities...), "default")
	for _, a := range seen {
		if tools := e.ACopytools[a]; len(tools) > 0 {
			return tools, nil
		}
	}
	return nil, taxonomy.New(taxonomy.QueueDataNotOK, map[string]any{"activities": activities}, "failed to resolve copytool by preferred activities")
}

// DirectAccessVariables is the per-queue/job direct-access decision,
// grounded on get_direct_access_variables.
type DirectAccessVariables struct {
	Allow bool
	Type  string // "LAN" or "WAN"
}

// ResolveDirectAccess computes whether direct access is allowed for job,
// given the queue's LAN/WAN flags, honoring the job-level forbid rule (spec
// §4.3: "If the job forbids direct access ... force it off").
func ResolveDirectAccess(storage *model.Config, job *model.Job) DirectAccessVariables {
	v := DirectAccessVariables{}
	if storage.DirectAccessLAN {
		v.Allow = true
		v.Type = "LAN"
	}
	if storage.DirectAccessWAN {
		v.Allow = true
		v.Type = "WAN"
	}
	if job != nil && job.ForbidsDirectAccess() {
		v.Allow = false
	}
	return v
}

// applyDirectAccessPolicy sorts direct-access candidates first and mutates
// each file's AccessMode/AllowRemoteInputs, grounded on
// StageInClient.transfer_files's "sort out direct access logic" block.
func applyDirectAccessPolicy(files []*model.FileSpec, dav DirectAccessVariables) {
	if !dav.Allow {
		return
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].IsDirectAccessCapable(false) && !files[j].IsDirectAccessCapable(false)
	})

	for _, f := range files {
		isDirect := dav.Allow && f.IsDirectAccessCapable(false)
		if isDirect && dav.Type == "WAN" {
			f.AllowRemoteInputs = true
		}
		if f.AccessMode != model.AccessModeDirect && isDirect {
			f.AccessMode = model.AccessModeDirect
		}
		if f.AccessMode == model.AccessModeDirect && !isDirect {
			f.AccessMode = model.AccessModeNone
		}
	}
}

// resolveReplica picks the best replica recorded on fspec.Replicas, first
// under primarySchemas (when non-empty) then under allowedSchemas, grounded
// on StagingClient.resolve_replica.
func resolveReplica(fspec *model.FileSpec, primarySchemas, allowedSchemas []string) error {
	if len(fspec.Replicas) == 0 {
		return nil
	}
	if len(allowedSchemas) == 0 {
		allowedSchemas = []string{""}
	}

	for _, rep := range fspec.Replicas {
		if len(rep.PFNs) == 0 {
			continue
		}
		chosen := ""
		if len(primarySchemas) > 0 {
			chosen = replica.GetPreferredReplica(rep.PFNs, primarySchemas)
		}
		if chosen == "" {
			chosen = replica.GetPreferredReplica(rep.PFNs, allowedSchemas)
		}
		if chosen == "" {
			continue
		}
		surl := replica.GetPreferredReplica(rep.PFNs, []string{"srm"})
		if surl == "" {
			surl = rep.PFNs[0]
		}
		fspec.TURL = chosen
		fspec.SURL = surl
		fspec.DDMEndpoint = rep.Endpoint
		return nil
	}

	return taxonomy.New(taxonomy.ReplicaNotFound, map[string]any{"lfn": fspec.LFN}, "failed to find replica for input file")
}

// StageIn prepares and transfers job's input files using the best available
// copytool for activity, grounded on StageInClient.transfer_files.
func (e *Engine) StageIn(ctx context.Context, job *model.Job, activity []string) error {
	files := job.InputFiles
	if len(files) == 0 {
		return nil
	}

	dav := ResolveDirectAccess(e.Storage, job)
	applyDirectAccessPolicy(files, dav)

	tools, err := e.resolveCopytools(activity)
	if err != nil {
		return err
	}

	var lastErr error
	for _, name := range tools {
		attemptID := uuid.New().String()

		ct, ok := e.Registry.Lookup(name)
		if !ok {
			lastErr = taxonomy.New(taxonomy.MiddlewareImportFailure, map[string]any{"copytool": name, "attempt_id": attemptID}, "unknown copytool, skipped")
			continue
		}

		if ct.RequireReplicas() && (len(files) == 0 || files[0].Replicas == nil) {
			if err := e.Resolver.Resolve(ctx, files); err != nil {
				lastErr = err
				continue
			}
			if err := e.resolveFileReplicas(ct, files); err != nil {
				lastErr = err
				continue
			}
		}

		if !ct.IsValidForCopyIn(files) {
			lastErr = taxonomy.New(taxonomy.StageInFailed, map[string]any{"copytool": name, "attempt_id": attemptID}, "invalid input data for transfer operation")
			continue
		}

		err := ct.CopyIn(ctx, files)
		if err == nil {
			if pfcErr := writePoolFileCatalog(job.WorkDir, files); pfcErr != nil {
				return pfcErr
			}
			return nil
		}
		if taxonomy.FatalErr(err) {
			return err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = taxonomy.New(taxonomy.StageInFailed, nil, "no copytool available for stage-in")
	}
	return lastErr
}

func (e *Engine) resolveFileReplicas(ct copytool.Copytool, files []*model.FileSpec) error {
	resolveFn := resolveReplica
	if override, ok := ct.(copytool.ReplicaResolverOverride); ok {
		resolveFn = override.ResolveReplica
	}
	for _, f := range files {
		var primary []string
		if f.AccessMode == model.AccessModeDirect {
			primary = DirectLocalInputAllowedSchemas
		}
		if err := resolveFn(f, primary, ct.AllowedSchemas()); err != nil {
			return err
		}
	}
	return nil
}

// resolveProtocols populates each file's Protocols from storage's
// activity->protocol map, grounded on StageOutClient.resolve_protocols.
func resolveProtocols(storage *model.Config, files []*model.FileSpec, activity []string) error {
	for _, f := range files {
		sd, ok := storage.Resolve(f.DDMEndpoint)
		if !ok {
			return taxonomy.New(taxonomy.QueueData, map[string]any{"ddmendpoint": f.DDMEndpoint}, "failed to resolve output ddmendpoint")
		}
		var protocols []model.Protocol
		for _, a := range activity {
			if p, ok := sd.ARProtocols[storage.DDMActivity(a)]; ok && len(p) > 0 {
				protocols = p
				break
			}
		}
		f.Protocols = protocols
	}
	return nil
}

// resolveProtocol filters fspec.Protocols down to those matching
// allowedSchemas, in schema-priority order, grounded on
// StageOutClient.resolve_protocol.
func resolveProtocol(fspec *model.FileSpec, allowedSchemas []string) []model.Protocol {
	if len(fspec.Protocols) == 0 {
		return nil
	}
	if len(allowedSchemas) == 0 {
		allowedSchemas = []string{""}
	}

	var out []model.Protocol
	for _, schema := range allowedSchemas {
		for _, p := range fspec.Protocols {
			if schema == "" || hasSchemaPrefix(p.Endpoint, schema) {
				out = append(out, p)
			}
		}
	}
	return out
}

func hasSchemaPrefix(endpoint, schema string) bool {
	return len(endpoint) >= len(schema)+3 && endpoint[:len(schema)+3] == schema+"://"
}

// StageOut verifies, resolves protocols/SURLs for, and transfers job's
// output files using the best available copytool for activity, grounded on
// StageOutClient.transfer_files.
func (e *Engine) StageOut(ctx context.Context, job *model.Job, activity []string) error {
	files := job.OutputFiles
	if len(files) == 0 {
		return nil
	}

	tools, err := e.resolveCopytools(activity)
	if err != nil {
		return err
	}

	var lastErr error
	for _, name := range tools {
		attemptID := uuid.New().String()

		ct, ok := e.Registry.Lookup(name)
		if !ok {
			lastErr = taxonomy.New(taxonomy.MiddlewareImportFailure, map[string]any{"copytool": name, "attempt_id": attemptID}, "unknown copytool, skipped")
			continue
		}

		if ct.RequireProtocols() {
			if err := resolveProtocols(e.Storage, files, activity); err != nil {
				lastErr = err
				continue
			}
			if err := e.resolveFileSURLs(ctx, ct, files, activity); err != nil {
				lastErr = err
				continue
			}
		}

		if !ct.IsValidForCopyOut(files) {
			lastErr = taxonomy.New(taxonomy.StageOutFailed, map[string]any{"copytool": name, "attempt_id": attemptID}, "invalid input for transfer operation")
			continue
		}

		err := ct.CopyOut(ctx, files)
		if err == nil {
			return nil
		}
		if taxonomy.FatalErr(err) {
			return err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = taxonomy.New(taxonomy.StageOutFailed, nil, "no copytool available for stage-out")
	}
	return lastErr
}

func (e *Engine) resolveFileSURLs(ctx context.Context, ct copytool.Copytool, files []*model.FileSpec, activity []string) error {
	resolveFn := func(ctx context.Context, f *model.FileSpec, p model.Protocol, storage *model.Config) (string, error) {
		return ResolveSURL(f, p, storage)
	}
	if override, ok := ct.(copytool.SURLResolverOverride); ok {
		resolveFn = override.ResolveSURL
	}

	for _, f := range files {
		protocols := resolveProtocol(f, ct.AllowedSchemas())
		if len(protocols) == 0 {
			return taxonomy.New(taxonomy.NoStorageProtocol, map[string]any{"lfn": f.LFN}, "failed to resolve protocol for file")
		}
		surl, err := resolveFn(ctx, f, protocols[0], e.Storage)
		if err != nil {
			return err
		}
		f.TURL = surl
	}
	_ = activity
	return nil
}
