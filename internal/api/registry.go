package api

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/royal-intrigue/internal/engine"
	"github.com/talgya/royal-intrigue/internal/persistence"
)

// ErrTooManyReigns is returned when the registry is full of reigns in progress.
var ErrTooManyReigns = errors.New("too many reigns in progress")

// DefaultMaxReigns bounds concurrently held reigns.
const DefaultMaxReigns = 256

// Registry holds the reigns being played through the API, keyed by reign id.
type Registry struct {
	mu      sync.Mutex
	reigns  map[string]*entry
	newFn   func() *engine.Session
	db      *persistence.DB
	maxSize int
}

type entry struct {
	session  *engine.Session
	created  time.Time
	finished atomic.Bool // set from OnGameOver, read without the session lock
}

// NewRegistry creates a registry. newFn builds each new session; db, if
// non-nil, receives every finished reign.
func NewRegistry(newFn func() *engine.Session, db *persistence.DB, maxSize int) *Registry {
	if maxSize <= 0 {
		maxSize = DefaultMaxReigns
	}
	return &Registry{
		reigns:  make(map[string]*entry),
		newFn:   newFn,
		db:      db,
		maxSize: maxSize,
	}
}

// Create starts a new reign in the welcome phase. Finished reigns are
// evicted, oldest first, to make room.
func (reg *Registry) Create() (*engine.Session, error) {
	s := reg.newFn()
	e := &entry{session: s, created: time.Now()}
	s.OnGameOver = func(c *engine.Chronicle) {
		e.finished.Store(true)
		reg.archive(c)
	}
	id := s.ID()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(reg.reigns) >= reg.maxSize {
		reg.evictFinished()
	}
	if len(reg.reigns) >= reg.maxSize {
		return nil, ErrTooManyReigns
	}
	reg.reigns[id] = e
	return s, nil
}

// evictFinished never touches a session lock: a reign mid-consultation
// holds its lock for the whole oracle round.
func (reg *Registry) evictFinished() {
	var oldest string
	var oldestAt time.Time
	for id, e := range reg.reigns {
		if !e.finished.Load() {
			continue
		}
		if oldest == "" || e.created.Before(oldestAt) {
			oldest, oldestAt = id, e.created
		}
	}
	if oldest != "" {
		delete(reg.reigns, oldest)
	}
}

// Get returns the reign with the given id.
func (reg *Registry) Get(id string) (*engine.Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.reigns[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Rekey moves a reset reign to its new id.
func (reg *Registry) Rekey(oldID string, s *engine.Session) {
	newID := s.ID()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.reigns[oldID]
	if !ok {
		return
	}
	delete(reg.reigns, oldID)
	e.created = time.Now()
	e.finished.Store(false)
	reg.reigns[newID] = e
}

// Len returns the number of held reigns.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.reigns)
}

// archive runs under the session's lock; it must not call back into the session.
func (reg *Registry) archive(c *engine.Chronicle) {
	if reg.db == nil {
		return
	}
	if err := reg.db.SaveReign(c); err != nil {
		slog.Error("archive reign failed", "reign", c.ReignID, "error", err)
	}
}
