// Package risk computes the cumulative risk score and assessment for a
// proctoring session from its violation counts and frame-level ratios.
package risk

// Level buckets a risk score into an actionable category.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Level boundaries on the 0..100 score.
const (
	mediumThreshold   = 20.0
	highThreshold     = 50.0
	criticalThreshold = 75.0
)

// Severity weights and frame-ratio weights of the score formula.
const (
	weightHighSeverity   = 20.0
	weightMediumSeverity = 10.0
	weightLowSeverity    = 5.0

	weightAbsentRatio   = 30.0
	weightMultipleRatio = 40.0
	weightLookAwayRatio = 20.0

	maxScore = 100.0
)

// Counters are the session totals the score is derived from.
type Counters struct {
	TotalFrames        int
	FramesWithoutFace  int
	FramesMultipleFace int
	FramesLookingAway  int

	HighSeverityCount   int
	MediumSeverityCount int
	LowSeverityCount    int
}

// Score computes the 0..100 risk score. Severity counts contribute fixed
// weights per violation; frame ratios contribute proportionally. A session
// with no analyzed frames scores 0.
func Score(c Counters) float64 {
	score := weightHighSeverity*float64(c.HighSeverityCount) +
		weightMediumSeverity*float64(c.MediumSeverityCount) +
		weightLowSeverity*float64(c.LowSeverityCount)

	if c.TotalFrames > 0 {
		total := float64(c.TotalFrames)
		score += weightAbsentRatio * float64(c.FramesWithoutFace) / total
		score += weightMultipleRatio * float64(c.FramesMultipleFace) / total
		score += weightLookAwayRatio * float64(c.FramesLookingAway) / total
	}

	if score > maxScore {
		return maxScore
	}
	return score
}

// Assessment pairs a level with the reviewer guidance for that level.
type Assessment struct {
	Score          float64 `json:"risk_score"`
	Level          Level   `json:"risk_level"`
	Recommendation string  `json:"recommendation"`
}

// Assess maps a score to its level and recommendation text.
func Assess(score float64) Assessment {
	a := Assessment{Score: score}
	switch {
	case score < mediumThreshold:
		a.Level = LevelLow
		a.Recommendation = "No significant concerns detected."
	case score < highThreshold:
		a.Level = LevelMedium
		a.Recommendation = "Some suspicious activity detected. Review recommended."
	case score < criticalThreshold:
		a.Level = LevelHigh
		a.Recommendation = "Multiple indicators of potential academic dishonesty. Mandatory review required."
	default:
		a.Level = LevelCritical
		a.Recommendation = "Severe violations detected. Consider invalidating assessment."
	}
	return a
}
