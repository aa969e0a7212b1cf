// Package sink defines the result delivery interface and its reference
// JSONL implementation: every emitted line is a typed envelope wrapping
// one ResultRecord/ErrorRecord/ProgressRecord/SummaryRecord payload.
package sink

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants, following an envelope-plus-version-tag
// pattern.
const (
	TypeResult   = "fathom.result.v1"
	TypeError    = "fathom.error.v1"
	TypeProgress = "fathom.progress.v1"
	TypeSummary  = "fathom.summary.v1"
)

// Envelope wraps every emitted line with a type tag and timestamp, so a
// consumer can dispatch on Type without parsing Data speculatively.
type Envelope struct {
	Type   string          `json:"type"`
	TS     time.Time       `json:"ts"`
	ScanID string          `json:"scan_id"`
	Data   json.RawMessage `json:"data"`
}

// ResultRecord is the single externally observable unit of a scan: one
// kept classification for one candidate against one target.
type ResultRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	TargetRef     string    `json:"target_ref"`
	CandidatePath string    `json:"candidate_path"`
	FinalURL      string    `json:"final_url"`
	Type          string    `json:"type"`
	SourceLabel   string    `json:"source_label,omitempty"`
	Signature     string    `json:"signature"`
	Status        int       `json:"status"`
	BodySize      int       `json:"body_size"`
	ElapsedMS     int64     `json:"elapsed_ms"`
	RetryCount    int       `json:"retry_count"`
	RedirectChain []string  `json:"redirect_chain,omitempty"`
}

// ErrorRecord reports a non-fatal error encountered while scanning one
// target.
type ErrorRecord struct {
	TargetRef string `json:"target_ref,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeTargetSetup    = "TARGET_SETUP"
	ErrCodeTransport      = "TRANSPORT"
	ErrCodeClassification = "CLASSIFICATION"
	ErrCodeSink           = "SINK"
	ErrCodeConfig         = "CONFIG"
)

// ProgressRecord describes one target's progress for Sink.WriteProgress.
// pkg/scan does not emit it.
type ProgressRecord struct {
	TargetRef         string `json:"target_ref"`
	Phase             string `json:"phase"`
	Requested         int64  `json:"requested"`
	Kept              int64  `json:"kept"`
	Filtered          int64  `json:"filtered"`
	RecursionDepthMax int    `json:"recursion_depth_max"`
}

// Progress phase constants.
const (
	PhaseCalibrating = "calibrating"
	PhaseScanning    = "scanning"
	PhaseRecursing   = "recursing"
	PhaseComplete    = "complete"
)

// SummaryRecord is emitted once a target (or the whole scan) finishes.
type SummaryRecord struct {
	TargetRef     string        `json:"target_ref,omitempty"`
	Requested     int64         `json:"requested"`
	Kept          int64         `json:"kept"`
	Filtered      int64         `json:"filtered"`
	Errors        int64         `json:"errors"`
	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// ErrSinkClosed is returned when writing to a closed Sink.
var ErrSinkClosed = errors.New("sink: closed")

// WriteError wraps a failure encountered while marshaling or writing a
// record.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return "sink: " + e.Op + ": " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }
