package capture

// State is the terminal state of a capture session. StateUnavailable ends
// an attempt before capture starts because the extractor cannot produce
// embeddings; it always pairs with ReasonExtractorUnavailable.
type State string

const (
	StateRunning     State = "RUNNING"
	StateAccepted    State = "ACCEPTED"
	StateExhausted   State = "EXHAUSTED"
	StateAborted     State = "ABORTED"
	StateUnavailable State = "UNAVAILABLE"
)

// Reason explains a verification outcome.
type Reason string

const (
	ReasonMatched              Reason = "MATCHED"
	ReasonNoFaceDetected       Reason = "NO_FACE_DETECTED"
	ReasonNoMatchWithinTimeout Reason = "NO_MATCH_WITHIN_DEADLINE"
	ReasonExtractorUnavailable Reason = "EXTRACTOR_UNAVAILABLE"
)

// Outcome is the result of one verification attempt.
type Outcome struct {
	Accepted  bool     `json:"accepted"`
	Identity  string   `json:"identity,omitempty"`
	Reason    Reason   `json:"reason,omitempty"`
	State     State    `json:"state"`
	Distance  *float64 `json:"distance,omitempty"` // best distance seen, nil when nothing was compared
	Frames    int      `json:"frames"`
	AttemptID string   `json:"attempt_id"`
}
