package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		MaxAbsentFrames:       30,
		MaxMultipleFaceFrames: 15,
		MaxLookAwayFrames:     60,
	}
}

func TestAbsentThresholdBoundary(t *testing.T) {
	tr := New(defaultThresholds())

	for i := 0; i < 29; i++ {
		res := tr.Observe(Observation{FacesDetected: 0})
		assert.Empty(t, res.Breaches, "frame %d must not breach", i+1)
	}

	res := tr.Observe(Observation{FacesDetected: 0})
	require.Len(t, res.Breaches, 1)
	assert.Equal(t, BreachFaceAbsent, res.Breaches[0])
	assert.Equal(t, 30, res.ConsecutiveAbsent)
}

func TestAbsentFiresOncePerBreach(t *testing.T) {
	tr := New(defaultThresholds())

	var breaches int
	for i := 0; i < 40; i++ {
		res := tr.Observe(Observation{FacesDetected: 0})
		breaches += len(res.Breaches)
	}
	assert.Equal(t, 1, breaches, "a prolonged absence emits exactly one violation")

	// Face returns, counter re-arms, a second absence fires again.
	tr.Observe(Observation{FacesDetected: 1})
	breaches = 0
	for i := 0; i < 30; i++ {
		res := tr.Observe(Observation{FacesDetected: 0})
		breaches += len(res.Breaches)
	}
	assert.Equal(t, 1, breaches)
}

func TestAbsentAndMultipleAreMutuallyExclusive(t *testing.T) {
	tr := New(Thresholds{MaxAbsentFrames: 5, MaxMultipleFaceFrames: 5, MaxLookAwayFrames: 5})

	for i := 0; i < 4; i++ {
		tr.Observe(Observation{FacesDetected: 2})
	}
	// An empty frame zeroes the multiple-face counter.
	res := tr.Observe(Observation{FacesDetected: 0})
	assert.Equal(t, 0, res.ConsecutiveMultiple)
	assert.Equal(t, 1, res.ConsecutiveAbsent)

	// Multiple faces again start counting from scratch.
	res = tr.Observe(Observation{FacesDetected: 2})
	assert.Equal(t, 1, res.ConsecutiveMultiple)
	assert.Equal(t, 0, res.ConsecutiveAbsent)
}

func TestMultipleFacesThreshold(t *testing.T) {
	tr := New(defaultThresholds())

	var got []Breach
	for i := 0; i < 20; i++ {
		res := tr.Observe(Observation{FacesDetected: 3})
		got = append(got, res.Breaches...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, BreachMultipleFaces, got[0])
}

func TestLookAwayThreshold(t *testing.T) {
	tr := New(Thresholds{MaxAbsentFrames: 30, MaxMultipleFaceFrames: 15, MaxLookAwayFrames: 5})

	var got []Breach
	for i := 0; i < 5; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
		got = append(got, res.Breaches...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, BreachLookAway, got[0])

	// Looking back resets the counter and re-arms it.
	tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: true})
	got = nil
	for i := 0; i < 5; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
		got = append(got, res.Breaches...)
	}
	require.Len(t, got, 1)
}

func TestUntrackedGazeNeverCounts(t *testing.T) {
	tr := New(Thresholds{MaxAbsentFrames: 30, MaxMultipleFaceFrames: 15, MaxLookAwayFrames: 2})

	for i := 0; i < 100; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: false, LookingAtScreen: false})
		assert.Empty(t, res.Breaches)
		assert.Equal(t, 0, res.ConsecutiveLookAway)
	}
}

func TestGazePatternWindowFires(t *testing.T) {
	tr := New(defaultThresholds())

	// 16 away then 14 present: at frame 30 the window is full with 16/30
	// away, above the 0.5 ratio.
	var got []Breach
	for i := 0; i < 16; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
		got = append(got, res.Breaches...)
	}
	for i := 0; i < 13; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: true})
		got = append(got, res.Breaches...)
	}
	require.Empty(t, got, "pattern must not fire before the window is full")

	res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: true})
	require.Len(t, res.Breaches, 1)
	assert.Equal(t, BreachGazePattern, res.Breaches[0])
	assert.InDelta(t, 16.0/30.0, res.LookAwayRatio, 1e-9)
}

func TestGazePatternWindowDoesNotFireBelowRatio(t *testing.T) {
	tr := New(defaultThresholds())

	var got []Breach
	for i := 0; i < 14; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
		got = append(got, res.Breaches...)
	}
	for i := 0; i < 16; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: true})
		got = append(got, res.Breaches...)
	}
	assert.Empty(t, got, "14/30 away must not cross the 0.5 ratio")
}

func TestGazePatternWindowResetsAfterFiring(t *testing.T) {
	tr := New(defaultThresholds())

	for i := 0; i < 30; i++ {
		tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
	}

	// The window was cleared when the pattern fired; the next 29 tracked
	// frames cannot fire it again even though every one is a look-away.
	var breaches []Breach
	for i := 0; i < 29; i++ {
		res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
		for _, b := range res.Breaches {
			if b == BreachGazePattern {
				breaches = append(breaches, b)
			}
		}
	}
	assert.Empty(t, breaches)

	res := tr.Observe(Observation{FacesDetected: 1, GazeTracked: true, LookingAtScreen: false})
	var fired bool
	for _, b := range res.Breaches {
		if b == BreachGazePattern {
			fired = true
		}
	}
	assert.True(t, fired, "pattern fires again once a fresh window fills")
}
