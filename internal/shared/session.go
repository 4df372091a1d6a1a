package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionEventKind names a change of the signed-in user.
type SessionEventKind string

const (
	SessionSignedIn  SessionEventKind = "signed_in"
	SessionSignedOut SessionEventKind = "signed_out"
)

// SessionEvent is delivered to observers after a session change is committed.
type SessionEvent struct {
	Kind      SessionEventKind
	SessionID string
	UserID    string
	At        time.Time
}

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool

	mu        sync.RWMutex
	nextID    int
	observers map[int]func(context.Context, SessionEvent)
}

// Session holds per-request session data. It is owned by one request.
type Session struct {
	ID        string
	values    map[string]string
	userID    string
	pending   []SessionEvent
	isNew     bool
	dirty     bool
	destroyed bool
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		observers:  make(map[int]func(context.Context, SessionEvent)),
	}
}

// Subscribe registers fn for sign-in and sign-out events and returns a function that
// removes it.
func (sm *SessionManager) Subscribe(fn func(context.Context, SessionEvent)) (unsubscribe func()) {
	sm.mu.Lock()
	id := sm.nextID
	sm.nextID++
	sm.observers[id] = fn
	sm.mu.Unlock()
	return func() {
		sm.mu.Lock()
		delete(sm.observers, id)
		sm.mu.Unlock()
	}
}

func (sm *SessionManager) notify(ctx context.Context, events []SessionEvent) {
	if len(events) == 0 {
		return
	}
	sm.mu.RLock()
	fns := make([]func(context.Context, SessionEvent), 0, len(sm.observers))
	for _, fn := range sm.observers {
		fns = append(fns, fn)
	}
	sm.mu.RUnlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ctx, ev)
		}
	}
}

// Load loads or creates a new session for request.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return newSession(uuid.NewString()), nil
		}
		return nil, err
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(cookie.Value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return newSession(uuid.NewString()), nil
	}
	if err != nil {
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	sess := newSession(cookie.Value)
	sess.values = stored.Values
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	sess.userID = stored.UserID
	sess.isNew, sess.dirty = false, false
	return sess, nil
}

// Commit persists the session, writes the cookie and notifies observers of sign-in
// changes made during the request. Anonymous untouched sessions are not stored.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	events := sess.pending
	sess.pending = nil

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		sm.notify(ctx, events)
		return nil
	}
	if sess.isNew && sess.userID == "" && len(sess.values) == 0 {
		return nil
	}

	if sess.dirty {
		data, err := json.Marshal(sessionPayload{Values: sess.values, UserID: sess.userID})
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	sm.notify(ctx, events)
	return nil
}

// SignIn binds the session to userID. A new session id is issued so a pre-login id
// cannot be reused.
func (sm *SessionManager) SignIn(sess *Session, userID string) {
	if sess == nil {
		return
	}
	sess.ID = uuid.NewString()
	sess.isNew = true
	sess.SetUser(userID)
	sess.pending = append(sess.pending, SessionEvent{Kind: SessionSignedIn, SessionID: sess.ID, UserID: userID, At: time.Now().UTC()})
}

// SignOut marks the session for deletion.
func (sm *SessionManager) SignOut(sess *Session) {
	if sess == nil {
		return
	}
	if sess.userID != "" {
		sess.pending = append(sess.pending, SessionEvent{Kind: SessionSignedOut, SessionID: sess.ID, UserID: sess.userID, At: time.Now().UTC()})
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// SetUser associates the session with a user ID.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the current user ID.
func (s *Session) User() string {
	return s.userID
}

func newSession(id string) *Session {
	return &Session{ID: id, values: make(map[string]string), isNew: true, dirty: true}
}

func (sm *SessionManager) redisKey(id string) string {
	return "schoolfees:session:" + id
}
