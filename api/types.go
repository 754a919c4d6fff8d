package api

import (
	"context"

	"dashboard/board"
	"dashboard/domain"
	"dashboard/session"
)

// Resources is the resource client as used by the shell.
type Resources interface {
	board.Resources
	Login(ctx context.Context, username, password string) (string, error)
	ListBills(ctx context.Context, s session.Session) ([]domain.Bill, error)
}

// SessionStore persists signed-in sessions between requests.
type SessionStore interface {
	Create(ctx context.Context, s session.Session) (session.Session, error)
	Get(ctx context.Context, id string) (session.Session, error)
	// Touch extends the lifetime of an active session.
	Touch(ctx context.Context, s session.Session) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// TokenDecoder derives a session from a bearer token.
type TokenDecoder interface {
	New(token string) (session.Session, error)
}
