package session

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/procwatch/proctor-go/internal/errors"
)

// Registry tracks the live session managers by session ID. Sessions that see
// no frames for the idle timeout are evicted and marked interrupted, which
// covers clients that disappear without ending their session.
type Registry struct {
	cache         *gocache.Cache
	idleTimeout   time.Duration
	onInterrupted func(*Manager)
	log           *slog.Logger
}

// NewRegistry creates a registry with the given idle timeout. onInterrupted,
// when non-nil, is invoked after an evicted session has been interrupted so
// the caller can persist the final state.
func NewRegistry(idleTimeout time.Duration, onInterrupted func(*Manager), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		cache:         gocache.New(idleTimeout, idleTimeout/2),
		idleTimeout:   idleTimeout,
		onInterrupted: onInterrupted,
		log:           log,
	}
	r.cache.OnEvicted(r.evicted)
	return r
}

// evicted fires on both expiry and explicit Delete. Interrupt is a no-op on
// sessions that already finished, so deliberate removals pass through
// untouched.
func (r *Registry) evicted(id string, value any) {
	m, ok := value.(*Manager)
	if !ok {
		return
	}
	if m.Status() == StatusActive {
		r.log.Warn("session idle timeout, interrupting", "session_id", id)
		m.Interrupt()
		if r.onInterrupted != nil {
			r.onInterrupted(m)
		}
	}
}

// Add registers a live session.
func (r *Registry) Add(m *Manager) {
	r.cache.Set(m.ID(), m, r.idleTimeout)
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*Manager, error) {
	v, found := r.cache.Get(id)
	if !found {
		return nil, errors.Newf("session not found or no longer active").
			Component("session").
			Category(errors.CategoryNotFound).
			Context("session_id", id).
			Build()
	}
	return v.(*Manager), nil
}

// FindByStudent returns the live session owned by studentID, if any.
func (r *Registry) FindByStudent(studentID string) *Manager {
	for _, item := range r.cache.Items() {
		if m, ok := item.Object.(*Manager); ok && m.StudentID() == studentID {
			return m
		}
	}
	return nil
}

// Touch resets the idle timer for a session after frame activity.
func (r *Registry) Touch(id string) {
	if v, found := r.cache.Get(id); found {
		r.cache.Set(id, v, r.idleTimeout)
	}
}

// Remove drops a session from the registry. The eviction hook leaves
// finished sessions alone.
func (r *Registry) Remove(id string) {
	r.cache.Delete(id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	return r.cache.ItemCount()
}
