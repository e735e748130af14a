package risk

import "context"

// ruleFunc inspects a drag trace and returns zero or more Findings if
// its rule matches.
type ruleFunc func(trace Trace) []Finding

// RuleBasedScorer is the default Scorer implementation. It runs a fixed
// set of plausibility rules against the drag trace and accumulates a
// score.
type RuleBasedScorer struct {
	rules []ruleFunc
}

// NewRuleBasedScorer returns a RuleBasedScorer loaded with the default
// rule set.
func NewRuleBasedScorer() *RuleBasedScorer {
	s := &RuleBasedScorer{}
	s.rules = []ruleFunc{
		ruleInstantDrag,
		ruleTeleport,
		ruleUniformMotion,
		ruleMonotonicPerfection,
	}
	return s
}

// Score implements Scorer.
func (s *RuleBasedScorer) Score(_ context.Context, trace Trace) (*Report, error) {
	var findings []Finding
	for _, r := range s.rules {
		findings = append(findings, r(trace)...)
	}

	total := 0
	for _, f := range findings {
		total += int(f.Confidence * 50)
	}
	if total > 100 {
		total = 100
	}

	if findings == nil {
		findings = []Finding{}
	}

	return &Report{
		Score:    total,
		Severity: severityLabel(total),
		Findings: findings,
		Rejected: total >= 85,
	}, nil
}

// minHumanDragMillis is the fastest drag a real pointer gesture has
// been observed to take across a slider track.
const minHumanDragMillis = 120

// ruleInstantDrag flags gestures faster than any human hand.
func ruleInstantDrag(trace Trace) []Finding {
	if trace.DurationMillis <= 0 {
		return nil
	}
	if trace.DurationMillis < minHumanDragMillis {
		return []Finding{{
			Rule:        "instant_drag",
			Description: "Drag completed faster than a human gesture",
			Confidence:  0.9,
		}}
	}
	return nil
}

// ruleTeleport flags traces that jump straight from rest to the final
// offset with no intermediate samples.
func ruleTeleport(trace Trace) []Finding {
	if len(trace.Offsets) == 0 {
		return nil
	}
	if len(trace.Offsets) <= 2 && trace.Offsets[len(trace.Offsets)-1] > 0 {
		return []Finding{{
			Rule:        "teleport",
			Description: "Handle moved to its final offset without intermediate positions",
			Confidence:  0.8,
		}}
	}
	return nil
}

// ruleUniformMotion flags perfectly constant per-sample velocity, which
// scripted drags produce and jittery human pointers do not.
func ruleUniformMotion(trace Trace) []Finding {
	if len(trace.Offsets) < 5 {
		return nil
	}
	first := trace.Offsets[1] - trace.Offsets[0]
	for i := 2; i < len(trace.Offsets); i++ {
		if trace.Offsets[i]-trace.Offsets[i-1] != first {
			return nil
		}
	}
	return []Finding{{
		Rule:        "uniform_motion",
		Description: "Handle velocity is exactly constant across the whole drag",
		Confidence:  0.7,
	}}
}

// ruleMonotonicPerfection flags long drags with no overshoot or
// correction at all. Real drags nearly always back up at least once
// near the slot.
func ruleMonotonicPerfection(trace Trace) []Finding {
	if len(trace.Offsets) < 12 {
		return nil
	}
	for i := 1; i < len(trace.Offsets); i++ {
		if trace.Offsets[i] < trace.Offsets[i-1] {
			return nil
		}
	}
	return []Finding{{
		Rule:        "monotonic_perfection",
		Description: "Long drag with no correction movement near the target",
		Confidence:  0.3,
	}}
}
