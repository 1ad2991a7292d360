package replica

import (
	"context"
	"strings"

	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

// defaultSchemes is the schema list used for the initial, unfiltered catalog
// query, matching resolve_replicas's bquery['schemes'].
var defaultSchemes = []string{"srm", "root", "davs", "gsiftp", "https"}

// Resolver populates FileSpec.Replicas for a batch of input files, grounded
// on original_source/pilot/api/data.py's StagingClient.resolve_replicas.
type Resolver struct {
	Catalog Catalog
	Storage *model.Config

	// DirectLocalInputAllowedSchemas gates whether a local replica is
	// usable for direct (non-copy) access.
	DirectLocalInputAllowedSchemas []string
	// DirectRemoteInputAllowedSchemas gates remote replicas when the file
	// is in direct-access mode.
	DirectRemoteInputAllowedSchemas []string
	// RemoteInputAllowedSchemas gates remote replicas for ordinary
	// (copy-mode) files.
	RemoteInputAllowedSchemas []string
}

// GetPreferredReplica returns the first pfn in pfns whose scheme matches, in
// priority order, one of allowedSchemas — or "" if none match. An empty
// scheme in allowedSchemas matches any non-empty pfn (matching data.py's
// `not schema or replica.startswith(...)`).
func GetPreferredReplica(pfns []string, allowedSchemas []string) string {
	for _, schema := range allowedSchemas {
		for _, pfn := range pfns {
			if pfn == "" {
				continue
			}
			if schema == "" || strings.HasPrefix(pfn, schema+"://") {
				return pfn
			}
		}
	}
	return ""
}

// Resolve populates Replicas for every file in files via a single batched
// catalog query, exactly as resolve_replicas batches all requested DIDs into
// one list_replicas() call.
func (r *Resolver) Resolve(ctx context.Context, files []*model.FileSpec) error {
	var allowRemoteInput bool
	for _, f := range files {
		if len(f.InputDDMs) == 0 && r.Storage != nil {
			// Per the default-to-ReadLAN decision (spec §9): queuedata's
			// astorages['pr'] in the original is replaced by the explicit
			// ReadLAN activity list.
			f.InputDDMs = append([]string(nil), r.Storage.ReadLAN...)
		}
		if f.AllowRemoteInputs {
			allowRemoteInput = true
		}
	}
	if len(files) == 0 {
		return nil
	}

	dids := make([]DID, len(files))
	for i, f := range files {
		dids[i] = DID{Scope: f.Scope, Name: f.LFN}
	}
	query := Query{Schemes: defaultSchemes, DIDs: dids}

	if allowRemoteInput {
		// A failed probe yields the zero Location, which leaves the query
		// unsorted.
		if loc := DetectClientLocation(); loc != (Location{}) {
			query.Sort = "geoip"
			query.ClientLocation = loc
		}
	}

	replicas, err := r.Catalog.ListReplicas(ctx, query)
	if err != nil {
		var unsupported *GeoSortUnsupportedError
		if query.Sort != "" && isGeoSortUnsupported(err, &unsupported) {
			query.Sort = ""
			query.ClientLocation = Location{}
			replicas, err = r.Catalog.ListReplicas(ctx, query)
		}
		if err != nil {
			return taxonomy.New(taxonomy.NoReplicas, map[string]any{"reason": err.Error()}, "failed to get replicas from catalog")
		}
	}

	byDID := make(map[DID]*model.FileSpec, len(files))
	for _, f := range files {
		byDID[DID{Scope: f.Scope, Name: f.LFN}] = f
	}

	for _, rep := range replicas {
		fdat, ok := byDID[DID{Scope: rep.Scope, Name: rep.Name}]
		if !ok {
			continue
		}
		r.applyReplica(fdat, rep)
	}

	return nil
}

// applyReplica resolves one file's replica list from a single catalog hit:
// first a local-endpoint scan over fdat.InputDDMs, then — only if local
// resolution came up empty, or direct access was requested but no local
// replica supports it — a remote-endpoint scan that visits every endpoint in
// the reply rather than stopping at the first hit (spec §9 decision #1).
func (r *Resolver) applyReplica(fdat *model.FileSpec, rep CatalogReplica) {
	fdat.Replicas = nil
	hasDirectLocal := false

	for _, ddm := range fdat.InputDDMs {
		pfns := rep.RSEPFNs[ddm]
		if len(pfns) == 0 {
			continue
		}
		fdat.Replicas = append(fdat.Replicas, model.Replica{Endpoint: ddm, PFNs: pfns})
		if !hasDirectLocal {
			hasDirectLocal = GetPreferredReplica(pfns, r.DirectLocalInputAllowedSchemas) != ""
		}
	}

	needRemote := len(fdat.Replicas) == 0 || (fdat.AccessMode == model.AccessModeDirect && !hasDirectLocal)
	if needRemote && fdat.AllowRemoteInputs {
		allowed := r.RemoteInputAllowedSchemas
		if fdat.AccessMode == model.AccessModeDirect {
			allowed = r.DirectRemoteInputAllowedSchemas
		}
		for ddm, pfns := range rep.RSEPFNs {
			if GetPreferredReplica(pfns, allowed) == "" {
				continue
			}
			fdat.Replicas = append(fdat.Replicas, model.Replica{Endpoint: ddm, PFNs: pfns})
			// Deliberately no early exit: every matching remote endpoint is
			// recorded, not just the first.
		}
	}

	if fdat.FileSize == 0 {
		fdat.FileSize = rep.Bytes
	}
	if fdat.Checksum == nil {
		fdat.Checksum = map[string]string{}
	}
	if fdat.Checksum["adler32"] == "" && rep.Adler32 != "" {
		fdat.Checksum["adler32"] = rep.Adler32
	}
	if fdat.Checksum["md5"] == "" && rep.MD5 != "" {
		fdat.Checksum["md5"] = rep.MD5
	}
}

func isGeoSortUnsupported(err error, target **GeoSortUnsupportedError) bool {
	if u, ok := err.(*GeoSortUnsupportedError); ok {
		*target = u
		return true
	}
	return false
}
