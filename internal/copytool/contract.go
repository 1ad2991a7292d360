// Package copytool defines the contract every transfer backend must satisfy
// (spec §4.1) and the process-wide Registry of backend handles, generalizing
// the teacher's single hardcoded backend (agent/internal/restic.Wrapper) into
// a pluggable interface with an explicit, build-time-populated map — spec.md
// §9's "dynamic plugin loading" design note: in a static language the
// Registry becomes an explicit map populated at startup, with capability
// fields modeled as an interface rather than Python's attribute duck-typing.
package copytool

import (
	"context"

	"github.com/gridpilot/pilot/internal/model"
)

// ResolveReplicaFunc lets a backend override the default replica-resolution
// logic used by the Staging Engine (spec §4.1's optional resolve_replica).
type ResolveReplicaFunc func(file *model.FileSpec, primarySchemas, allowedSchemas []string) error

// ResolveSURLFunc lets a backend override the default SURL construction
// used for stage-out (spec §4.1's optional resolve_surl).
type ResolveSURLFunc func(ctx context.Context, file *model.FileSpec, protocol model.Protocol, storage *model.Config) (string, error)

// Copytool is the capability interface every transfer backend must satisfy
// (spec §4.1). Handles are immutable once registered.
type Copytool interface {
	// Name is the backend's registry key (e.g. "rucio", "gfal", "s3").
	Name() string

	// RequireReplicas reports whether CopyIn needs files' replicas
	// resolved before it is called.
	RequireReplicas() bool
	// RequireProtocols reports whether CopyOut needs files' protocols
	// resolved before it is called.
	RequireProtocols() bool
	// AllowedSchemas is the prioritized list of URL schemes this backend
	// can speak, used both for replica/protocol selection and passed to
	// get_preferred_replica-style schema ranking.
	AllowedSchemas() []string

	// IsValidForCopyIn / IsValidForCopyOut perform backend-specific
	// pre-flight validation of the file batch.
	IsValidForCopyIn(files []*model.FileSpec) bool
	IsValidForCopyOut(files []*model.FileSpec) bool

	// CopyIn / CopyOut perform the transfer. They may mutate each file's
	// Status, StatusCode, and TURL. A MissingOutputFile taxonomy error
	// from CopyOut is fatal (spec §4.1); any other error is recoverable.
	CopyIn(ctx context.Context, files []*model.FileSpec) error
	CopyOut(ctx context.Context, files []*model.FileSpec) error
}

// ReplicaResolverOverride is implemented by a Copytool that wants to
// override the Staging Engine's default per-file replica resolution.
type ReplicaResolverOverride interface {
	ResolveReplica(file *model.FileSpec, primarySchemas, allowedSchemas []string) error
}

// SURLResolverOverride is implemented by a Copytool that wants to override
// the Staging Engine's default SURL construction for stage-out.
type SURLResolverOverride interface {
	ResolveSURL(ctx context.Context, file *model.FileSpec, protocol model.Protocol, storage *model.Config) (string, error)
}

// Registry is the process-wide, immutable map from backend name to handle
// (spec §4.1). Build one with NewRegistry at startup and never mutate it
// afterward — it is read concurrently by every staging attempt.
type Registry struct {
	tools map[string]Copytool
}

// NewRegistry builds an immutable Registry from the given handles. Two
// handles with the same Name() is a programming error and panics, matching
// the teacher's fail-fast startup style (e.g. restic.NewWrapper's startup
// extraction errors).
func NewRegistry(tools ...Copytool) *Registry {
	m := make(map[string]Copytool, len(tools))
	for _, t := range tools {
		if _, dup := m[t.Name()]; dup {
			panic("copytool: duplicate registration for " + t.Name())
		}
		m[t.Name()] = t
	}
	return &Registry{tools: m}
}

// Lookup returns the registered Copytool for name, or false if none is
// registered — the Staging Engine treats an unregistered name as a
// fail-open skip (spec §4.3 step 1), not a fatal error.
func (r *Registry) Lookup(name string) (Copytool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
