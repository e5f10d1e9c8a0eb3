package scanner

import "regexp"

// Axis names for the regex signal scorer.
const (
	AxisDirective   = "directive"
	AxisDecisional  = "decisional"
	AxisConsistency = "consistency"
	AxisPreference  = "preference"
	AxisIdentity    = "identity"
	AxisEmotional   = "emotional"
	AxisTemporal    = "temporal"
	AxisEvaluative  = "evaluative"
)

type axis struct {
	name     string
	weight   float64
	patterns []*regexp.Regexp
}

var signalAxes = []axis{
	{AxisDirective, 1.0, compileAll(
		`(?i)\balways\b`, `(?i)\bnever\b`, `(?i)\bmust\b`, `(?i)\bshould\b`,
		`(?i)\bhave to\b`, `(?i)\bensure\b`, `(?i)\bmake sure\b`, `(?i)\bdon'?t ever\b`,
	)},
	{AxisDecisional, 0.9, compileAll(
		`(?i)\blet'?s use\b`, `(?i)\bgo with\b`, `(?i)\bdecided\b`, `(?i)\bpicked\b`,
		`(?i)\bwe'?ll use\b`,
	)},
	{AxisConsistency, 0.9, compileAll(
		`(?i)\bconsistent\b`, `(?i)\bmatch\b`, `(?i)\bstandardize\b`, `(?i)\buniform\b`,
		`(?i)\beverywhere\b`,
	)},
	{AxisPreference, 0.8, compileAll(
		`(?i)\bI (like|prefer|want|hate|love)\b`, `(?i)\brather\b`, `(?i)\binstead of\b`,
	)},
	{AxisIdentity, 0.8, compileAll(
		`(?i)\bmy project\b`, `(?i)\bmy app\b`, `(?i)\bI built\b`, `(?i)\bis called\b`,
		`(?i)\bmy repo\b`,
	)},
	{AxisEmotional, 0.7, compileAll(
		`(?i)\blove\b`, `(?i)\bhate\b`, `(?i)\bannoying\b`, `(?i)\bterrible\b`, `(?i)\bawesome\b`,
	)},
	{AxisTemporal, 0.7, compileAll(
		`(?i)\bfrom now on\b`, `(?i)\bgoing forward\b`, `(?i)\bevery time\b`, `(?i)\bwhenever\b`,
	)},
	{AxisEvaluative, 0.6, compileAll(
		`(?i)\bworks\b`, `(?i)\bbroken\b`, `(?i)\bgood\b`, `(?i)\bbad\b`, `(?i)\bclean\b`,
		`(?i)\bmessy\b`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// SignalScore holds per-axis raw scores and the weighted total.
type SignalScore struct {
	Axes  map[string]float64
	Total float64
}

// ScoreSignals runs the weighted regex axes over text. Each axis scores
// min(count x weight, 2 x weight) so one spammy axis cannot dominate.
func ScoreSignals(text string) SignalScore {
	s := SignalScore{Axes: make(map[string]float64, len(signalAxes))}
	for _, a := range signalAxes {
		count := 0
		for _, re := range a.patterns {
			count += len(re.FindAllStringIndex(text, -1))
		}
		score := float64(count) * a.weight
		if max := 2 * a.weight; score > max {
			score = max
		}
		s.Axes[a.name] = score
		s.Total += score
	}
	return s
}

// ruleGate is the combined regex threshold a user message must clear,
// on top of its semantic anchor match, before it becomes a pending rule.
const ruleGate = 0.5

// PassesRuleGate reports whether the directive-leaning axes clear the
// promotion threshold.
func (s SignalScore) PassesRuleGate() bool {
	return s.Axes[AxisDirective]+s.Axes[AxisTemporal]+s.Axes[AxisConsistency] >= ruleGate
}
