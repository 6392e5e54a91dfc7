package activity

import (
	"sync"
	"time"
)

type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session carries the identity of the signed-in operator and the client it
// connects from. It is created once and injected into the Recorder; Init and
// Reset follow login and logout.
type Session struct {
	mu        sync.RWMutex
	actor     Actor
	address   string
	agent     string
	startedAt time.Time
	active    bool
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Init(actor Actor, address, agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actor = actor
	s.address = address
	s.agent = agent
	s.startedAt = time.Now()
	s.active = true
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actor = Actor{}
	s.address = ""
	s.agent = ""
	s.startedAt = time.Time{}
	s.active = false
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) Actor() Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

// Stamp copies session identity into fields the caller left empty.
func (s *Session) Stamp(rec *LogRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.active {
		return
	}
	if rec.ActorID == "" {
		rec.ActorID = s.actor.ID
	}
	if rec.ActorName == "" {
		rec.ActorName = s.actor.Name
	}
	if rec.ActorEmail == "" {
		rec.ActorEmail = s.actor.Email
	}
	if rec.SourceAddress == "" {
		rec.SourceAddress = s.address
	}
	if rec.AgentString == "" {
		rec.AgentString = s.agent
	}
}
