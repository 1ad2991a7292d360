// Package model holds the data structures that flow between the Staging
// Engine, the Workflow Orchestrator, and the copytool backends: FileSpec,
// Job, StorageData, and HeartbeatDoc (spec §3).
//
// A FileSpec is owned, at any instant, by exactly one stage — whichever
// stage currently holds the Job it belongs to off a queue. No package in
// this module mutates a FileSpec it does not currently own.
package model

// AccessMode is the per-file direct-access policy.
type AccessMode string

const (
	AccessModeNone   AccessMode = ""
	AccessModeDirect AccessMode = "direct"
	AccessModeCopy   AccessMode = "copy"
)

// FileStatus is the outcome of a stage-in/stage-out attempt for one file.
type FileStatus string

const (
	FileStatusNone        FileStatus = ""
	FileStatusTransferred FileStatus = "transferred"
	FileStatusFailed      FileStatus = "failed"
	FileStatusRemoteIO    FileStatus = "remote_io"
)

// Replica is one DDM endpoint's set of physical filenames for a file.
type Replica struct {
	Endpoint string
	PFNs     []string
}

// Protocol describes one way to reach a DDM endpoint for a given activity.
type Protocol struct {
	Endpoint string
	Path     string
	Flavour  string
	ID       int
}

// FileSpec represents one logical file in flight, per spec §3.
type FileSpec struct {
	// Identity
	Scope string
	LFN   string
	GUID  string

	// Placement
	DDMEndpoint string
	InputDDMs   []string
	Replicas    []Replica
	Protocols   []Protocol

	// Transfer
	TURL     string
	SURL     string
	FileSize int64
	Checksum map[string]string // "adler32" | "md5" -> hex

	// Policy
	AccessMode        AccessMode
	AllowRemoteInputs bool

	// State
	Status     FileStatus
	StatusCode int

	// Workspace
	WorkDir  string
	Dataset  string
	Activity string
}

// IsDirectAccessCapable reports whether this file could be read directly
// from storage rather than staged to local disk, independent of whether
// direct access is currently enabled for the job. With ensureReplica false
// every file is capable; with ensureReplica true a file is capable when at
// least one of its replicas carries a non-empty PFN, whatever its schema.
func (f *FileSpec) IsDirectAccessCapable(ensureReplica bool) bool {
	if !ensureReplica {
		return true
	}
	for _, r := range f.Replicas {
		for _, pfn := range r.PFNs {
			if pfn != "" {
				return true
			}
		}
	}
	return false
}

// ResetChecksum ensures the Checksum map is non-nil so callers can assign
// into it unconditionally.
func (f *FileSpec) ResetChecksum() {
	if f.Checksum == nil {
		f.Checksum = make(map[string]string)
	}
}
