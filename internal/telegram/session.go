package telegram

import "sync"

// stage tracks where a user is inside the purchase conversation.
type stage int

const (
	stageNone stage = iota
	stageAwaitingCode
	stageAwaitingPhone
)

// session holds one user's conversational state. Sessions live in memory
// only; a restart simply sends the user back to /start.
type session struct {
	Plan         string
	DiscountCode string
	Stage        stage
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[int64]*session)}
}

// get returns the user's session, creating an empty one on first contact.
func (s *sessionStore) get(userID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{}
		s.sessions[userID] = sess
	}
	return sess
}

// reset discards any in-progress conversation for the user.
func (s *sessionStore) reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}
