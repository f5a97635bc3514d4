package assembler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SegmentID identifies a segment within a project. Context Maps written by the
// pipeline use integer ids; string ids are accepted as well.
type SegmentID string

// UnmarshalJSON accepts a JSON number or string.
func (id *SegmentID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = SegmentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("segment id: %w", err)
	}
	*id = SegmentID(n.String())
	return nil
}

// MarshalJSON writes canonical integers back as numbers.
func (id SegmentID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(string(id)), nil
	}
	return json.Marshal(string(id))
}

// Status is the pipeline state of a segment.
type Status string

const (
	StatusPending              Status = "pending"
	StatusSuccess              Status = "success"
	StatusFailedAdaptation     Status = "failed_adaptation"
	StatusFailedTTS            Status = "failed_tts"
	StatusFailedVocalIsolation Status = "failed_vocal_isolation"
)

// Failed reports whether an upstream stage gave up on the segment.
func (s Status) Failed() bool {
	return strings.HasPrefix(string(s), "failed_")
}

// Segment is one Context Map entry. Only the timing, status and audio path are
// used for assembly; the rest is carried so documents survive a store round trip.
type Segment struct {
	ID                 SegmentID `json:"id"`
	StartMs            int64     `json:"start_ms"`
	EndMs              int64     `json:"end_ms"`
	Duration           int64     `json:"duration,omitempty"`
	Text               string    `json:"text,omitempty"`
	Speaker            string    `json:"speaker,omitempty"`
	Confidence         float64   `json:"confidence,omitempty"`
	CleanPromptPath    string    `json:"clean_prompt_path,omitempty"`
	Emotion            string    `json:"emotion,omitempty"`
	AdaptedText        string    `json:"adapted_text,omitempty"`
	Status             Status    `json:"status,omitempty"`
	Attempts           int       `json:"attempts,omitempty"`
	GeneratedAudioPath string    `json:"generated_audio_path,omitempty"`
	ValidationFeedback string    `json:"validation_feedback,omitempty"`
}

// TargetDurationMs is the length of the segment's window.
func (s Segment) TargetDurationMs() int64 {
	return s.EndMs - s.StartMs
}

// ContextMap is the per-project document shared by every pipeline stage.
type ContextMap struct {
	ProjectID          string    `json:"project_id"`
	OriginalDurationMs int64     `json:"original_duration_ms"`
	SourceLanguage     string    `json:"source_language,omitempty"`
	TargetLanguage     string    `json:"target_language,omitempty"`
	CreatedAt          string    `json:"created_at,omitempty"`
	UpdatedAt          string    `json:"updated_at,omitempty"`
	Segments           []Segment `json:"segments"`
}

// Outcome is what happened to one segment during a run.
type Outcome string

const (
	OutcomeOverlaid     Outcome = "overlaid"
	OutcomeFailedStatus Outcome = "failed_status"
	OutcomeMissingAudio Outcome = "missing_audio"
	OutcomeError        Outcome = "error"
)

// SegmentResult is the per-segment line of a Report.
type SegmentResult struct {
	ID               SegmentID `json:"id"`
	Outcome          Outcome   `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
	StartMs          int64     `json:"start_ms"`
	TargetDurationMs int64     `json:"target_duration_ms"`
	ActualDurationMs int64     `json:"actual_duration_ms,omitempty"`
	Conformed        bool      `json:"conformed"`
	TempoChain       []float64 `json:"tempo_chain,omitempty"`
}

// DriftClass buckets the absolute drift of a finished track.
type DriftClass string

const (
	DriftExcellent  DriftClass = "excellent"
	DriftGood       DriftClass = "good"
	DriftAcceptable DriftClass = "acceptable"
	DriftPoor       DriftClass = "poor"
)

// Report is the result of one assembly run. It is not modified after Assemble
// returns it.
type Report struct {
	Success               bool            `json:"success"`
	Error                 string          `json:"error,omitempty"`
	RunID                 string          `json:"run_id"`
	ProjectID             string          `json:"project_id"`
	OutputPath            string          `json:"output_path,omitempty"`
	OriginalDurationMs    int64           `json:"original_duration_ms"`
	FinalDurationMs       int64           `json:"final_duration_ms"`
	DurationDifferenceMs  int64           `json:"duration_difference_ms"`
	ToleranceMs           int64           `json:"tolerance_ms"`
	DriftDetected         bool            `json:"drift_detected"`
	DriftClass            DriftClass      `json:"drift_class,omitempty"`
	CumulativeDriftDefect bool            `json:"cumulative_drift_defect,omitempty"`
	TotalSegments         int             `json:"total_segments"`
	SuccessfulSegments    int             `json:"successful_segments"`
	FailedSegments        int             `json:"failed_segments"`
	SkippedSegments       int             `json:"skipped_segments"`
	CompletionRate        float64         `json:"completion_rate"`
	ElapsedMs             int64           `json:"elapsed_ms"`
	Segments              []SegmentResult `json:"segments,omitempty"`
}

// DurationCheck is the result of ValidateDuration.
type DurationCheck struct {
	Valid              bool  `json:"valid"`
	ActualDurationMs   int64 `json:"actual_duration_ms"`
	ExpectedDurationMs int64 `json:"expected_duration_ms"`
	DifferenceMs       int64 `json:"difference_ms"`
	ToleranceMs        int64 `json:"tolerance_ms"`
}
