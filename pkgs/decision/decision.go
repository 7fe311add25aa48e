package decision

// Outcome is the result of applying the fraud threshold to a score
type Outcome string

const (
	Accept Outcome = "accept"
	Flag   Outcome = "flag"
)

// Decide accepts a submission only when its fraud score is strictly below
// the threshold. A score equal to the threshold is flagged.
func Decide(fraudScorePercent, threshold float64) Outcome {
	if fraudScorePercent < threshold {
		return Accept
	}
	return Flag
}

// ThresholdSource returns the currently configured threshold
type ThresholdSource func() float64

// Engine applies Decide with a threshold that is re-read on every call so
// operators can retune it without restarting the pipeline
type Engine struct {
	threshold ThresholdSource
}

// NewEngine creates an Engine bound to a threshold source
func NewEngine(threshold ThresholdSource) *Engine {
	return &Engine{threshold: threshold}
}

// Threshold returns the threshold in effect right now
func (e *Engine) Threshold() float64 {
	return e.threshold()
}

// Decide applies the current threshold and reports which threshold it used
func (e *Engine) Decide(fraudScorePercent float64) (Outcome, float64) {
	threshold := e.threshold()
	return Decide(fraudScorePercent, threshold), threshold
}

// Static returns a ThresholdSource that always yields v
func Static(v float64) ThresholdSource {
	return func() float64 { return v }
}
