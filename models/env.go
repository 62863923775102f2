package models

import (
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

type Env struct {
	// DB is the database connection.
	DB     *gorm.DB
	Logger *slog.Logger
}

func (e *Env) Log() *slog.Logger {
	return e.Logger
}

// Links returns the credential store.
func (e *Env) Links() *Links {
	return NewLinks(e.DB)
}

// Checkins returns the dedup ledger.
func (e *Env) Checkins() *Checkins {
	return NewCheckins(e.DB)
}

// Authorizations returns the pending authorization store.
func (e *Env) Authorizations() *Authorizations {
	return NewAuthorizations(e.DB)
}

// Registrations returns the Mastodon application registrations.
func (e *Env) Registrations() *Registrations {
	return NewRegistrations(e.DB)
}
