package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/bpajor/pay-man-sys/internal/config"
	"github.com/bpajor/pay-man-sys/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sessionKey = "session"

// SessionManager loads the session addressed by the request cookie and
// writes the cookie for fresh sessions. Session data itself is owned by the
// single request holding it; handlers mutate and save explicitly.
type SessionManager struct {
	store        session.Store
	cookieName   string
	cookieSecure bool
	maxAge       int
}

func NewSessionManager(store session.Store, cfg *config.SessionConfig) *SessionManager {
	ttl, err := cfg.GetTTL()
	if err != nil || ttl == 0 {
		ttl = 24 * time.Hour
	}
	name := cfg.CookieName
	if name == "" {
		name = "pms_session"
	}
	return &SessionManager{
		store:        store,
		cookieName:   name,
		cookieSecure: cfg.CookieSecure,
		maxAge:       int(ttl.Seconds()),
	}
}

// Load resolves the request's session, creating an anonymous one when the
// cookie is absent, stale, or malformed.
func (m *SessionManager) Load() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.resolve(c)
		if err != nil {
			Logger(c).Error("failed to resolve session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

func (m *SessionManager) resolve(c *gin.Context) (*session.Session, error) {
	if raw, err := c.Cookie(m.cookieName); err == nil {
		if id, err := uuid.Parse(raw); err == nil {
			sess, err := m.store.Get(c.Request.Context(), id)
			if err == nil {
				return sess, nil
			}
			if !errors.Is(err, session.ErrNotFound) {
				return nil, err
			}
		}
	}

	sess := session.NewAnonymous()
	if err := m.store.Save(c.Request.Context(), sess); err != nil {
		return nil, err
	}
	m.WriteCookie(c, sess)
	return sess, nil
}

// Save persists the session state.
func (m *SessionManager) Save(c *gin.Context, sess *session.Session) error {
	return m.store.Save(c.Request.Context(), sess)
}

// Rotate destroys the current session record and re-homes its state under a
// fresh identifier. Called at privilege changes so a pre-login session id
// cannot be fixated across the trust boundary.
func (m *SessionManager) Rotate(c *gin.Context, sess *session.Session) error {
	if err := m.store.Destroy(c.Request.Context(), sess.ID); err != nil {
		return err
	}
	sess.ID = uuid.New()
	if err := m.store.Save(c.Request.Context(), sess); err != nil {
		return err
	}
	m.WriteCookie(c, sess)
	return nil
}

// Destroy removes the session record and expires the cookie.
func (m *SessionManager) Destroy(c *gin.Context, sess *session.Session) error {
	if err := m.store.Destroy(c.Request.Context(), sess.ID); err != nil {
		return err
	}
	c.SetCookie(m.cookieName, "", -1, "/", "", m.cookieSecure, true)
	return nil
}

func (m *SessionManager) WriteCookie(c *gin.Context, sess *session.Session) {
	c.SetCookie(m.cookieName, sess.ID.String(), m.maxAge, "/", "", m.cookieSecure, true)
}

// CurrentSession returns the session placed in the context by Load.
func CurrentSession(c *gin.Context) *session.Session {
	if v, ok := c.Get(sessionKey); ok {
		if sess, ok := v.(*session.Session); ok {
			return sess
		}
	}
	return nil
}
