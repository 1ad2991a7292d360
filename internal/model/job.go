package model

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// TransferType captures how a job's input data should move, per spec §3.
type TransferType string

const (
	TransferTypeDefault TransferType = ""
	TransferTypeDirect  TransferType = "direct"
)

// Job aggregates the input/output FileSpec sets for one unit of work
// dispatched by the server, per spec §3.
type Job struct {
	ID       string
	TaskID   string
	WorkDir  string
	Command  string
	NEvents  int

	InputFiles  []*FileSpec
	OutputFiles []*FileSpec

	AccessMode   AccessMode
	TransferType TransferType
	IsAnalysis   bool

	// CloneJobID supplements the spec with the original pilot's
	// "executed clone job" path (taxonomy.ExecutedCloneJob): a
	// continuation Job built by eventservice.CloneAndContinue records the
	// originating job's ID here. Nothing else in this module reads it.
	// Empty for ordinary jobs.
	CloneJobID string
}

// IsProduction reports whether this is a production job as opposed to an
// analysis (user) job — used by the direct-access policy (spec §4.3).
func (j *Job) IsProduction() bool {
	return !j.IsAnalysis
}

// ForbidsDirectAccess reports whether this job's type+transfertype combination
// disallows direct access, per spec §4.3: "If the job forbids direct access
// (production job with transfertype != "direct"), force it off."
func (j *Job) ForbidsDirectAccess() bool {
	return j.IsProduction() && j.TransferType != TransferTypeDirect
}

// fileWire mirrors one entry of a getJob dispatcher response's inFiles/
// outFiles lists (original_source/pilot/info/jobdata.py's per-file fields).
type fileWire struct {
	Scope       string `json:"scope"`
	LFN         string `json:"lfn"`
	GUID        string `json:"guid"`
	DDMEndpoint string `json:"ddmEndpoint"`
	FSize       int64  `json:"fsize"`
	Checksum    string `json:"checksum"`
}

func (w fileWire) toFileSpec() *FileSpec {
	f := &FileSpec{
		Scope:       w.Scope,
		LFN:         w.LFN,
		GUID:        w.GUID,
		DDMEndpoint: w.DDMEndpoint,
		FileSize:    w.FSize,
	}
	if w.Checksum != "" {
		f.ResetChecksum()
		f.Checksum["adler32"] = w.Checksum
	}
	return f
}

// jobWire mirrors the per-job JSON object returned by the server's getJob
// dispatcher call, taking only the fields the rest of the pilot acts on
// (original_source/pilot/info/jobdata.py's JobData attribute names).
type jobWire struct {
	PandaID         int64      `json:"PandaID"`
	TaskID          string     `json:"taskID"`
	CurrentDir      string     `json:"currentDir"`
	Transformation  string     `json:"transformation"`
	NEvents         int        `json:"nEvents"`
	TransferType    string     `json:"transferType"`
	ProdSourceLabel string     `json:"prodSourceLabel"`
	InFiles         []fileWire `json:"inFiles"`
	OutFiles        []fileWire `json:"outFiles"`
}

// JobFromJSON decodes one getJob dispatcher response entry into the domain
// Job type the rest of the pilot acts on.
func JobFromJSON(raw []byte) (*Job, error) {
	var w jobWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("model: failed to decode job: %w", err)
	}

	job := &Job{
		ID:           strconv.FormatInt(w.PandaID, 10),
		TaskID:       w.TaskID,
		WorkDir:      w.CurrentDir,
		Command:      w.Transformation,
		NEvents:      w.NEvents,
		TransferType: TransferType(w.TransferType),
		IsAnalysis:   w.ProdSourceLabel == "user" || w.ProdSourceLabel == "panda",
	}
	for _, in := range w.InFiles {
		job.InputFiles = append(job.InputFiles, in.toFileSpec())
	}
	for _, out := range w.OutFiles {
		job.OutputFiles = append(job.OutputFiles, out.toFileSpec())
	}
	return job, nil
}

// PandaID parses Job.ID back into the numeric PandaID the Communicator's
// update/event-service calls address, mirroring the dispatcher's own
// PandaID type.
func (j *Job) PandaID() (int64, error) {
	id, err := strconv.ParseInt(j.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("model: job id %q is not a numeric PandaID: %w", j.ID, err)
	}
	return id, nil
}
