package captcha

// Reason says why a verification attempt failed. These strings are part
// of the wire contract; clients branch on them to pick an error message.
type Reason string

const (
	ReasonSessionExpired   Reason = "Session expired"
	ReasonTooManyAttempts  Reason = "Too many attempts"
	ReasonInvalidDuration  Reason = "Invalid duration"
	ReasonPositionMismatch Reason = "Position mismatch"
)

// MetricLabel renders a reason as a prometheus label value.
func (r Reason) MetricLabel() string {
	switch r {
	case ReasonSessionExpired:
		return "session_expired"
	case ReasonTooManyAttempts:
		return "too_many_attempts"
	case ReasonInvalidDuration:
		return "invalid_duration"
	case ReasonPositionMismatch:
		return "position_mismatch"
	default:
		return "unknown"
	}
}

// Outcome is the authoritative result of grading one drag attempt.
// Verification failures are data, not errors: every graded attempt gets
// an Outcome and an HTTP 200.
type Outcome struct {
	Valid    bool    `json:"valid"`
	Accuracy float64 `json:"accuracy,omitempty"`
	Reason   Reason  `json:"reason,omitempty"`
}
