package link

import "sync"

// Conn is one established session of a link. Done is closed when the
// session is lost; Err then reports why.
type Conn interface {
	Done() <-chan struct{}
	Err() error
}

// Session is a ready-made Conn for transports that learn about connection
// loss through callbacks.
type Session struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// NewSession returns a live session.
func NewSession() *Session {
	return &Session{done: make(chan struct{})}
}

// Done is closed once the session is lost.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the loss cause, or nil while the session is live.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Lost marks the session as lost. Only the first call has an effect.
func (s *Session) Lost(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
