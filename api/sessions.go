package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dashboard/board"
	"dashboard/session"
	"dashboard/storage"
)

const (
	sessionContextKey  = "session"
	boardKeyContextKey = "board_key"
)

var errLoginRequired = errors.New("login required")

// requireSession resolves the caller's session from the session cookie, or
// from a bearer token for API callers, and rejects the request otherwise.
func (s *Shell) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := metricsFrom(c)

		if ck, err := c.Cookie(s.opts.CookieName); err == nil && ck.Value != "" {
			sess, err := s.store.Get(ctx, ck.Value)
			if err != nil {
				if errors.Is(err, storage.ErrSessionNotFound) {
					m.SetErrorStage("session")
					s.clearCookie(c)
					return c.String(http.StatusUnauthorized, errLoginRequired.Error())
				}
				m.SetErrorStage("session_store")
				s.log.WithFields(log.Fields{"error": err}).Error("session lookup failed")
				return c.String(http.StatusServiceUnavailable, "session store unavailable")
			}
			if err := s.store.Touch(ctx, sess); err != nil {
				s.log.WithFields(log.Fields{"error": err, "session_id": sess.ID}).Warn("session touch failed")
			}
			c.Set(sessionContextKey, sess)
			c.Set(boardKeyContextKey, "session:"+sess.ID)
			return next(c)
		}

		if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
			token, err := session.BearerFromHeader(h)
			if err != nil {
				m.SetErrorStage("auth")
				return c.String(http.StatusUnauthorized, err.Error())
			}
			sess, err := s.decoder.New(token)
			if err != nil {
				m.SetErrorStage("auth")
				return c.String(http.StatusUnauthorized, err.Error())
			}
			c.Set(sessionContextKey, sess)
			c.Set(boardKeyContextKey, "bearer:"+token)
			return next(c)
		}

		m.SetErrorStage("auth")
		return c.String(http.StatusUnauthorized, errLoginRequired.Error())
	}
}

func sessionFrom(c echo.Context) session.Session {
	sess, _ := c.Get(sessionContextKey).(session.Session)
	return sess
}

func (s *Shell) boardFor(c echo.Context) *board.Board {
	key, _ := c.Get(boardKeyContextKey).(string)
	sess := sessionFrom(c)
	return s.boards.get(key, func() *board.Board {
		return board.New(s.res, sess, s.log)
	})
}

func (s *Shell) setCookie(c echo.Context, sess session.Session) {
	ck := &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.opts.SessionTTL / time.Second),
	}
	c.SetCookie(ck)
}

func (s *Shell) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// boardCache keeps one board per signed-in session. Entries idle for longer
// than the session lifetime are dropped on the next access.
type boardCache struct {
	mu      sync.Mutex
	idle    time.Duration
	entries map[string]*boardEntry
	now     func() time.Time
}

type boardEntry struct {
	board    *board.Board
	lastSeen time.Time
}

func newBoardCache(idle time.Duration) *boardCache {
	return &boardCache{idle: idle, entries: make(map[string]*boardEntry), now: time.Now}
}

func (bc *boardCache) get(key string, create func() *board.Board) *board.Board {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	now := bc.now()
	for k, e := range bc.entries {
		if k != key && bc.idle > 0 && now.Sub(e.lastSeen) > bc.idle {
			delete(bc.entries, k)
		}
	}
	e, ok := bc.entries[key]
	if !ok {
		e = &boardEntry{board: create()}
		bc.entries[key] = e
	}
	e.lastSeen = now
	return e.board
}

func (bc *boardCache) drop(key string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	delete(bc.entries, key)
}

func (bc *boardCache) size() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.entries)
}
