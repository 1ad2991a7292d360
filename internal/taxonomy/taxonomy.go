// Package taxonomy defines the single error type every Pilot component uses
// to report failure. Codes are a stable wire contract with the server: once
// assigned, a code's integer value must never change, only be added to.
//
// This mirrors the original pilot's pilot.common.exception.PilotException:
// one concrete type carrying a numeric code, a message template, and a
// kwargs context, rather than a class hierarchy of exception subtypes.
package taxonomy

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Code identifies a class of failure. Values are opaque and stable across
// versions — never renumber an existing Code.
type Code int

const (
	UnknownException Code = iota + 1
	NoLocalSpace
	SizeTooLarge
	StageInFailed
	StageOutFailed
	SetupFailure
	PayloadExecutionFailure
	MessageHandlingFailure
	CommunicationFailure
	FileHandlingFailure
	NoSuchFile
	ConversionFailure
	Mkdir
	NoProxy
	NoVomsProxy
	TrfDownloadFailure
	NotDefined
	NotSameLength
	ESRecoverable
	ESFatal
	ExecutedCloneJob
	ESNoEvents
	ExceededMaxWaitTime
	BadXML
	NoSoftwareDir
	LogFileCreationFailure
	QueueData
	QueueDataNotOK
	NoReplicas
	MiddlewareImportFailure
	JobAlreadyRunning
	ReplicaNotFound
	NoStorageProtocol
	MissingOutputFile
	StageInTimeout
	StageOutTimeout
	ChmodTrf
	UnknownPayloadFailure
)

// messages holds the fixed message text for each code. render() does not
// substitute kwargs into it; a non-empty kwargs map is appended after the
// text in parentheses.
var messages = map[Code]string{
	UnknownException:       "unknown exception",
	NoLocalSpace:            "not enough local space",
	SizeTooLarge:            "file size too large",
	StageInFailed:           "stage-in failed",
	StageOutFailed:          "stage-out failed",
	SetupFailure:            "setup failure",
	PayloadExecutionFailure: "payload execution failure",
	MessageHandlingFailure:  "message handling failure",
	CommunicationFailure:    "communication failure",
	FileHandlingFailure:     "file handling failure",
	NoSuchFile:              "no such file",
	ConversionFailure:       "conversion failure",
	Mkdir:                   "mkdir failure",
	NoProxy:                 "no proxy",
	NoVomsProxy:             "no voms proxy",
	TrfDownloadFailure:      "transform download failure",
	NotDefined:              "not defined",
	NotSameLength:           "lists not of the same length",
	ESRecoverable:           "recoverable event service error",
	ESFatal:                 "fatal event service error",
	ExecutedCloneJob:        "executed clone job",
	ESNoEvents:              "no events available",
	ExceededMaxWaitTime:     "exceeded maximum wait time",
	BadXML:                  "bad XML",
	NoSoftwareDir:           "no software directory",
	LogFileCreationFailure:  "log file creation failure",
	QueueData:               "queue data error",
	QueueDataNotOK:          "queue data not OK",
	NoReplicas:              "no replicas found",
	MiddlewareImportFailure: "middleware import failure",
	JobAlreadyRunning:       "job already running",
	ReplicaNotFound:         "replica not found",
	NoStorageProtocol:       "no storage protocol",
	MissingOutputFile:       "missing output file",
	StageInTimeout:          "stage-in timeout",
	StageOutTimeout:         "stage-out timeout",
	ChmodTrf:                "chmod of transform failed",
	UnknownPayloadFailure:   "unknown payload failure",
}

// Error is the single concrete error type used throughout the pilot. The
// "kind" of failure is carried entirely in Code — there is no separate
// type hierarchy to maintain.
type Error struct {
	Code    Code
	Kwargs  map[string]any
	Details []string
	Stack   string
}

// New constructs an Error for code, capturing the current stack and
// attaching kwargs as message-template context.
func New(code Code, kwargs map[string]any, details ...string) *Error {
	return &Error{
		Code:    code,
		Kwargs:  kwargs,
		Details: details,
		Stack:   string(debug.Stack()),
	}
}

// Error renders "error code: <n>, message: <m>\ndetails: <args>", matching
// PilotException.__str__ in the original implementation byte-for-byte in
// shape (the kwargs substitution uses Go's fmt instead of Python's % but the
// two-line layout and field order are preserved).
func (e *Error) Error() string {
	msg := e.render()
	if len(e.Details) > 0 {
		msg += "\ndetails: " + strings.Join(e.Details, "\n")
	}
	return strings.TrimSpace(msg)
}

func (e *Error) render() string {
	tmpl, ok := messages[e.Code]
	if !ok {
		tmpl = messages[UnknownException]
	}
	if len(e.Kwargs) == 0 {
		return fmt.Sprintf("error code: %d, message: %s", int(e.Code), tmpl)
	}
	return fmt.Sprintf("error code: %d, message: %s (%v)", int(e.Code), tmpl, e.Kwargs)
}

// Detail returns the rendered message plus the captured stack trace, the
// Go equivalent of PilotException.get_detail().
func (e *Error) Detail() string {
	return e.render() + "\nstacktrace: " + e.Stack
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	te, ok := err.(*Error)
	return ok && te.Code == code
}

// Fatal reports whether code must abort a dispatch loop immediately rather
// than trying the next backend. Only MissingOutputFile is fatal per §4.3.
func Fatal(code Code) bool {
	return code == MissingOutputFile
}

// CodeOf extracts the Code from err if it is a *Error, or UnknownException
// otherwise — lets callers that only have an `error` still consult Fatal.
func CodeOf(err error) Code {
	if te, ok := err.(*Error); ok {
		return te.Code
	}
	return UnknownException
}

// FatalErr reports whether err must abort a dispatch loop immediately.
func FatalErr(err error) bool {
	return Fatal(CodeOf(err))
}
