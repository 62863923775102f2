package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ErrInvalidState is returned when a state token is unknown, expired, already
// consumed, or was issued for a different platform.
var ErrInvalidState = errors.New("invalid or expired state")

// Platform identifies one side of the bridge.
type Platform string

const (
	Swarm    Platform = "swarm"
	Mastodon Platform = "mastodon"
)

func (Platform) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('swarm', 'mastodon')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// A PendingAuthorization records an OAuth handshake in flight. It is created
// when the user is redirected to the platform, and consumed when the platform
// redirects back.
type PendingAuthorization struct {
	StateToken string `gorm:"size:64;primaryKey;autoIncrement:false"`
	CreatedAt  time.Time
	Platform   Platform `gorm:"not null"`
	// SwarmUserID is the user the authorization is for, if known.
	SwarmUserID string `gorm:"size:64;not null;default:''"`
	// InstanceURL is the Mastodon instance being authorized against.
	InstanceURL string `gorm:"size:255;not null;default:''"`
}

// Authorizations stores PendingAuthorizations.
type Authorizations struct {
	db *gorm.DB
}

func NewAuthorizations(db *gorm.DB) *Authorizations {
	return &Authorizations{db: db}
}

// Create records a new PendingAuthorization with a fresh random state token.
func (a *Authorizations) Create(platform Platform, swarmUserID, instanceURL string) (*PendingAuthorization, error) {
	state, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	pending := &PendingAuthorization{
		StateToken:  state.String(),
		Platform:    platform,
		SwarmUserID: swarmUserID,
		InstanceURL: instanceURL,
	}
	return pending, a.db.Create(pending).Error
}

// Consume deletes the PendingAuthorization for the state token and returns it.
// The token is spent by this call whatever the outcome; a token which was
// issued more than ttl ago, or for another platform, returns ErrInvalidState.
// Of several concurrent calls with the same token at most one succeeds.
func (a *Authorizations) Consume(platform Platform, state string, ttl time.Duration) (*PendingAuthorization, error) {
	if state == "" {
		return nil, ErrInvalidState
	}
	var pending PendingAuthorization
	if err := a.db.Take(&pending, "state_token = ?", state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	res := a.db.Where("state_token = ?", state).Delete(&PendingAuthorization{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		// lost the race to another callback with the same state.
		return nil, ErrInvalidState
	}
	if pending.Platform != platform || time.Since(pending.CreatedAt) > ttl {
		return nil, ErrInvalidState
	}
	return &pending, nil
}

// Purge deletes PendingAuthorizations created before the given time and
// returns the number deleted.
func (a *Authorizations) Purge(before time.Time) (int64, error) {
	res := a.db.Where("created_at < ?", before).Delete(&PendingAuthorization{})
	return res.RowsAffected, res.Error
}
