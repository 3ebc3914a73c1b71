// Package tracker maintains the per-session violation state machine:
// consecutive-frame counters for face absence, multiple faces and looking
// away, plus a rolling window that catches intermittent gaze-avoidance
// patterns the consecutive counters miss.
package tracker

// GazeWindowSize is the number of recent frames considered by the rolling
// gaze-pattern detector.
const GazeWindowSize = 30

// gazePatternRatio is the fraction of look-away frames within a full window
// above which the pattern detector fires.
const gazePatternRatio = 0.5

// Breach identifies a threshold crossing detected for one frame.
type Breach int

const (
	BreachFaceAbsent Breach = iota
	BreachMultipleFaces
	BreachLookAway
	BreachGazePattern
)

// Thresholds are the consecutive-frame limits, fixed for the lifetime of a
// session.
type Thresholds struct {
	MaxAbsentFrames       int
	MaxMultipleFaceFrames int
	MaxLookAwayFrames     int
}

// Observation is the per-frame input derived from the detectors.
type Observation struct {
	FacesDetected int
	// GazeTracked is true when gaze estimation ran for this frame (face
	// present and gaze detection enabled). When false the gaze state is
	// untouched: absence of signal is not evidence of looking away.
	GazeTracked     bool
	LookingAtScreen bool
}

// Result reports the breaches and counter state after one observation.
type Result struct {
	Breaches []Breach

	ConsecutiveAbsent    int
	ConsecutiveMultiple  int
	ConsecutiveLookAway  int
	LookAwayRatio        float64 // rolling-window ratio, 0 until the window is full
}

// Tracker holds the counters for one session. Not safe for concurrent use;
// frames of a session must be observed in arrival order by a single owner.
type Tracker struct {
	thresholds Thresholds

	consecutiveAbsent   int
	absentFired         bool
	consecutiveMultiple int
	multipleFired       bool
	consecutiveLookAway int
	lookAwayFired       bool

	window    [GazeWindowSize]bool
	windowPos int
	windowLen int
}

// New creates a tracker with the given thresholds.
func New(thresholds Thresholds) *Tracker {
	return &Tracker{thresholds: thresholds}
}

// Observe advances the state machine by one frame. Each counter fires once
// when it crosses its threshold and then counts on silently; it re-arms only
// after resetting to zero.
func (t *Tracker) Observe(o Observation) Result {
	var res Result

	switch {
	case o.FacesDetected == 0:
		t.consecutiveAbsent++
		// An empty frame cannot also be a multi-face frame; force the
		// multiple-face counter down so the two states stay mutually
		// exclusive.
		t.consecutiveMultiple = 0
		t.multipleFired = false

		if t.consecutiveAbsent >= t.thresholds.MaxAbsentFrames && !t.absentFired {
			t.absentFired = true
			res.Breaches = append(res.Breaches, BreachFaceAbsent)
		}
	case o.FacesDetected > 1:
		t.consecutiveAbsent = 0
		t.absentFired = false
		t.consecutiveMultiple++

		if t.consecutiveMultiple >= t.thresholds.MaxMultipleFaceFrames && !t.multipleFired {
			t.multipleFired = true
			res.Breaches = append(res.Breaches, BreachMultipleFaces)
		}
	default:
		t.consecutiveAbsent = 0
		t.absentFired = false
		t.consecutiveMultiple = 0
		t.multipleFired = false
	}

	if o.GazeTracked {
		away := !o.LookingAtScreen
		t.pushWindow(away)

		if away {
			t.consecutiveLookAway++
			if t.consecutiveLookAway >= t.thresholds.MaxLookAwayFrames && !t.lookAwayFired {
				t.lookAwayFired = true
				res.Breaches = append(res.Breaches, BreachLookAway)
			}
		} else {
			t.consecutiveLookAway = 0
			t.lookAwayFired = false
		}

		if t.windowLen == GazeWindowSize {
			ratio := t.windowRatio()
			res.LookAwayRatio = ratio
			if ratio > gazePatternRatio {
				res.Breaches = append(res.Breaches, BreachGazePattern)
				// Debounce: require a full fresh window before the pattern
				// detector can fire again.
				t.resetWindow()
			}
		}
	}

	res.ConsecutiveAbsent = t.consecutiveAbsent
	res.ConsecutiveMultiple = t.consecutiveMultiple
	res.ConsecutiveLookAway = t.consecutiveLookAway
	return res
}

// FacePresent reports whether the most recent frame had a face.
func (t *Tracker) FacePresent() bool {
	return t.consecutiveAbsent == 0
}

// MultipleFaces reports whether the most recent frame had multiple faces.
func (t *Tracker) MultipleFaces() bool {
	return t.consecutiveMultiple > 0
}

// LookingAway reports whether the most recent tracked frame was a look-away.
func (t *Tracker) LookingAway() bool {
	return t.consecutiveLookAway > 0
}

func (t *Tracker) pushWindow(away bool) {
	t.window[t.windowPos] = away
	t.windowPos = (t.windowPos + 1) % GazeWindowSize
	if t.windowLen < GazeWindowSize {
		t.windowLen++
	}
}

func (t *Tracker) windowRatio() float64 {
	if t.windowLen == 0 {
		return 0
	}
	away := 0
	for i := 0; i < t.windowLen; i++ {
		if t.window[i] {
			away++
		}
	}
	return float64(away) / float64(t.windowLen)
}

func (t *Tracker) resetWindow() {
	t.windowPos = 0
	t.windowLen = 0
}
