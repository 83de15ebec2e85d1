package envelope

import (
	"errors"
	"time"
)

// Errors
var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown envelope type")
)

// Type is the envelope discriminant.
type Type string

const (
	TypeProgressUpdate  Type = "progress_update"
	TypeRecordCompleted Type = "record_completed"
	TypeAgentLog        Type = "agent_log"
	TypeJobCompleted    Type = "job_completed"
	TypeJobFailed       Type = "job_failed"

	// TypeConnectionLost is local only; see ConnectionLost.
	TypeConnectionLost Type = "connection_lost"
)

// Envelope is one decoded channel event.
type Envelope struct {
	Type       Type
	Payload    Payload
	ReceivedAt time.Time // Zero for envelopes built locally
}

// Terminal reports whether the event ends the job (completed or failed).
func (e Envelope) Terminal() bool {
	return e.Type == TypeJobCompleted || e.Type == TypeJobFailed
}

// Payload is implemented by every event payload type.
type Payload interface {
	Kind() Type
}

// ProgressUpdate reports incremental job progress.
type ProgressUpdate struct {
	Progress         int `json:"progress"` // 0-100
	CompletedRecords int `json:"completedRecords"`
}

// RecordCompleted signals that a record is final. Its content is not inlined.
type RecordCompleted struct {
	RecordID string `json:"recordId"`
	Status   string `json:"status,omitempty"`
}

// AgentLog is an informational message from a validation agent.
type AgentLog struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// JobCompleted marks terminal success.
type JobCompleted struct {
	JobID string `json:"jobId,omitempty"`
}

// JobFailed marks terminal failure.
type JobFailed struct {
	JobID string `json:"jobId,omitempty"`
	Error string `json:"error,omitempty"`
}

// ConnectionLost is emitted by the connection manager when it gives up
// reconnecting. Cached job data is left untouched.
type ConnectionLost struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func (ProgressUpdate) Kind() Type  { return TypeProgressUpdate }
func (RecordCompleted) Kind() Type { return TypeRecordCompleted }
func (AgentLog) Kind() Type        { return TypeAgentLog }
func (JobCompleted) Kind() Type    { return TypeJobCompleted }
func (JobFailed) Kind() Type       { return TypeJobFailed }
func (ConnectionLost) Kind() Type  { return TypeConnectionLost }

// New wraps a payload in an envelope of the matching type.
func New(p Payload) Envelope {
	return Envelope{Type: p.Kind(), Payload: p}
}

// Progress builds a progress_update envelope.
func Progress(progress, completedRecords int) Envelope {
	return New(ProgressUpdate{Progress: progress, CompletedRecords: completedRecords})
}

// RecordDone builds a record_completed envelope.
func RecordDone(recordID string) Envelope {
	return New(RecordCompleted{RecordID: recordID, Status: "completed"})
}

// Log builds an agent_log envelope.
func Log(message, level string) Envelope {
	return New(AgentLog{Message: message, Level: level})
}

// Completed builds a job_completed envelope.
func Completed(jobID string) Envelope {
	return New(JobCompleted{JobID: jobID})
}

// Failed builds a job_failed envelope.
func Failed(jobID, reason string) Envelope {
	return New(JobFailed{JobID: jobID, Error: reason})
}

// Lost builds the synthetic connection_lost envelope.
func Lost(attempts int, err error) Envelope {
	p := ConnectionLost{Attempts: attempts}
	if err != nil {
		p.Error = err.Error()
	}
	return New(p)
}
