package gate

import (
	"sync"
	"time"
)

// Session 已下发验证链接的用户会话，仅保存在内存中
type Session struct {
	IssuedAt time.Time
	Token    string
}

// SessionStore 以用户 ID 为键的会话表，同一用户多次下发时后写覆盖
type SessionStore struct {
	mu        sync.Mutex
	sessions  map[int64]Session
	ttl       time.Duration
	lastSweep time.Time
}

// NewSessionStore 创建会话表；ttl 为会话有效期，过期会话视为不存在
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		sessions: make(map[int64]Session),
		ttl:      ttl,
	}
}

// Issue 记录下发时间
func (s *SessionStore) Issue(userID int64, token string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[userID] = Session{IssuedAt: now, Token: token}
	if now.Sub(s.lastSweep) >= s.ttl {
		s.sweepLocked(now)
	}
}

// Lookup 查询会话
func (s *SessionStore) Lookup(userID int64, now time.Time) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	if now.Sub(session.IssuedAt) > s.ttl {
		delete(s.sessions, userID)
		return Session{}, false
	}
	return session, true
}

// Clear 删除会话
func (s *SessionStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len 当前会话数
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) sweepLocked(now time.Time) {
	for userID, session := range s.sessions {
		if now.Sub(session.IssuedAt) > s.ttl {
			delete(s.sessions, userID)
		}
	}
	s.lastSweep = now
}
