package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/pkg/types"
)

// Session is one connected client's view state and outbound channel.
// Expansion, filters and selection are session-local; the tree and
// overlay underneath are shared.
type Session struct {
	ID string

	mu         sync.Mutex
	root       string
	showHidden bool
	expanded   map[string]bool
	selection  map[string]bool
	needResync bool

	out    chan types.Response
	closed bool
}

func newSession(buffer int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		expanded:  make(map[string]bool),
		selection: make(map[string]bool),
		out:       make(chan types.Response, buffer),
	}
}

// Out is the outbound frame stream consumed by the transport.
func (s *Session) Out() <-chan types.Response { return s.out }

// Root returns the session's current view root.
func (s *Session) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// ExpandedSet returns a copy of the session's expansion set.
func (s *Session) ExpandedSet() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(s.expanded))
	for p := range s.expanded {
		set[p] = true
	}
	return set
}

// Selection returns the selected paths in insertion-independent order.
func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.selection))
	for p := range s.selection {
		paths = append(paths, p)
	}
	return paths
}

// observes reports whether a delta for path is of interest: the subject
// is the view root itself, or its parent is the view root or a member
// of the expansion set. Hidden entries are filtered per the session's
// flag; the root is always delivered regardless of its name.
func (s *Session) observes(path, parent, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == s.root {
		return true
	}
	if parent != s.root && !s.expanded[parent] {
		return false
	}
	if !s.showHidden && strings.HasPrefix(name, ".") {
		return false
	}
	return true
}

// push enqueues a frame without blocking. A slow consumer drops the
// delta and is flagged for resync instead of stalling the writer.
func (s *Session) push(resp types.Response) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	needResync := s.needResync
	s.mu.Unlock()

	select {
	case s.out <- resp:
		if resp.Delta != nil {
			metrics.DeltasSent.WithLabelValues(resp.Delta.Kind).Inc()
		}
		return
	default:
	}

	metrics.DeltasDropped.Inc()
	if needResync {
		return // already flagged
	}
	s.mu.Lock()
	s.needResync = true
	s.mu.Unlock()
	// Best effort: tell the client its view drifted and it must refresh.
	select {
	case s.out <- types.Response{Type: types.PushDelta, OK: true,
		Delta: &types.Delta{Kind: types.DeltaResync}}:
	default:
	}
}

func (s *Session) clearResync() {
	s.mu.Lock()
	s.needResync = false
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
