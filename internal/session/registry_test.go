package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/errors"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := &scriptedBackend{caps: fullCaps(), faces: oneFace()}
	return startSession(t, backend, conf.DefaultDetectionSettings(), nil)
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry(time.Minute, nil, nil)
	m := newTestManager(t)

	r.Add(m)
	assert.Equal(t, 1, r.Count())

	got, err := r.Get(m.ID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.Get("unknown-id")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	r.Remove(m.ID())
	assert.Equal(t, 0, r.Count())
}

func TestRegistryFindByStudent(t *testing.T) {
	r := NewRegistry(time.Minute, nil, nil)
	m := newTestManager(t)
	r.Add(m)

	assert.Same(t, m, r.FindByStudent(m.StudentID()))
	assert.Nil(t, r.FindByStudent("someone-else"))
}

func TestRegistryRemoveLeavesFinishedSessionAlone(t *testing.T) {
	var interrupted atomic.Int32
	r := NewRegistry(time.Minute, func(*Manager) { interrupted.Add(1) }, nil)

	m := newTestManager(t)
	r.Add(m)
	m.End()
	r.Remove(m.ID())

	assert.Equal(t, StatusCompleted, m.Status())
	assert.Equal(t, int32(0), interrupted.Load(),
		"removing a finished session must not mark it interrupted")
}

func TestRegistryIdleEvictionInterrupts(t *testing.T) {
	var interrupted atomic.Int32
	r := NewRegistry(50*time.Millisecond, func(m *Manager) {
		interrupted.Add(1)
	}, nil)

	m := newTestManager(t)
	r.Add(m)

	// No Touch calls: the session idles out and the janitor evicts it.
	require.Eventually(t, func() bool {
		return m.Status() == StatusInterrupted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), interrupted.Load())
}

func TestRegistryTouchKeepsSessionAlive(t *testing.T) {
	r := NewRegistry(100*time.Millisecond, nil, nil)
	m := newTestManager(t)
	r.Add(m)

	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		r.Touch(m.ID())
	}

	_, err := r.Get(m.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, m.Status())
}
