package state

import (
	"sync"
	"time"

	"github.com/savehub/savehub/pkg/library"
)

// Status is the lifecycle phase of the single emulator session.
type Status int

const (
	Idle Status = iota
	Launching
	Running
	Exiting
)

var statusNames = map[Status]string{
	Idle:      "idle",
	Launching: "launching",
	Running:   "running",
	Exiting:   "exiting",
}

func (s Status) String() string { return statusNames[s] }

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Session is the process-wide record of the one running or idle
// emulator instance. The process handle itself is owned by the
// controller and never leaves it.
type Session struct {
	Status       Status    `json:"status"`
	ActiveGameID string    `json:"activeGameId,omitempty"`
	SavePath     string    `json:"savePath,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
}

// Snapshot is a fully-formed view of the store, safe to hand out.
type Snapshot struct {
	Session Session             `json:"session"`
	Catalog []library.SaveEntry `json:"catalog"`
}

// Store is the authoritative in-memory record of what is currently
// true. Single-writer-per-field discipline: only the process
// controller writes the session, only the scan action writes the
// catalog. Readers get an atomic copy and never a partial mutation.
type Store struct {
	mu      sync.RWMutex
	session Session
	catalog []library.SaveEntry
}

func NewStore() *Store { return &Store{} }

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	catalog := make([]library.SaveEntry, len(s.catalog))
	copy(catalog, s.catalog)
	return Snapshot{Session: s.session, Catalog: catalog}
}

func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Store) SetSession(sess Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

func (s *Store) SetCatalog(catalog []library.SaveEntry) {
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
}

// Lookup finds a catalog entry by its game id.
func (s *Store) Lookup(gameID string) (library.SaveEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.catalog {
		if e.GameID == gameID {
			return e, true
		}
	}
	return library.SaveEntry{}, false
}
