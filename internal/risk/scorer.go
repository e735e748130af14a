// Package risk provides advisory bot-signal analysis of slider drag
// traces. It scores the interaction metadata submitted with a verify
// call against a fixed rule set. The score is defense in depth: a
// rejected trace burns one attempt, but a clean trace never substitutes
// for the position check.
package risk

import "context"

// Trace is the interaction metadata a client may submit alongside its
// answer. All fields are optional; absent data triggers no rules.
type Trace struct {
	// DurationMillis is the elapsed time between pointer down and
	// pointer up.
	DurationMillis int64 `json:"durationMillis,omitempty"`

	// Offsets samples the handle offset over the drag, in order. Only
	// the shape matters; sampling rate is up to the client.
	Offsets []int `json:"offsets,omitempty"`
}

// Finding is a single rule match returned by the scorer.
type Finding struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Report is the output of a trace analysis run.
type Report struct {
	// Score is the aggregate bot-likelihood score (0–100).
	Score int `json:"score"`

	// Severity is a human-readable label derived from Score:
	//   0–14   → "none"
	//   15–34  → "low"
	//   35–64  → "medium"
	//   65–84  → "high"
	//   85–100 → "critical"
	Severity string `json:"severity"`

	// Findings lists every rule that triggered.
	Findings []Finding `json:"findings"`

	// Rejected is true when Score ≥ 85. The verifier treats a rejected
	// trace as a failed attempt.
	Rejected bool `json:"rejected"`
}

// Scorer analyses a drag trace for bot indicators.
type Scorer interface {
	Score(ctx context.Context, trace Trace) (*Report, error)
}

// severityLabel maps a 0–100 score to a severity string.
func severityLabel(score int) string {
	switch {
	case score >= 85:
		return "critical"
	case score >= 65:
		return "high"
	case score >= 35:
		return "medium"
	case score >= 15:
		return "low"
	default:
		return "none"
	}
}
