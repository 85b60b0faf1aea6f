package research

import "sync"

// sessionState tracks one nested session the research component created
// and owns: it auto-approves permission requests from sessions it owns
// and waits for exactly one `return_response_to_user` call to complete
// the originating `rust_crate_query` tool call.
type sessionState struct {
	// done delivers the final answer exactly once. It is never closed;
	// a session that ends without an answer leaves it empty.
	done chan string
}

// sessionSet is the research-session set (§4.6): owned sessions keyed
// by id, so incoming traffic carrying a sessionId can be recognized as
// belonging to a session research itself created rather than a genuine
// upstream session.
type sessionSet struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: map[string]*sessionState{}}
}

// add registers a newly created session and returns its state.
func (s *sessionSet) add(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &sessionState{done: make(chan string, 1)}
	s.sessions[id] = st
	return st
}

// owns reports whether id belongs to a session research created.
func (s *sessionSet) owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// get returns the state for an owned session.
func (s *sessionSet) get(id string) (*sessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	return st, ok
}

// remove drops a session from the set once its tool call has resolved.
func (s *sessionSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
