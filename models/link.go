package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A UserLink bridges one person's Swarm account to their Mastodon account.
// A UserLink is created when the person completes the Swarm authorization,
// and becomes usable once the Mastodon authorization completes.
type UserLink struct {
	SwarmUserID string `gorm:"size:64;primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	SwarmAccessToken  string `gorm:"size:255;not null;default:''"`
	SwarmRefreshToken string `gorm:"size:255;not null;default:''"`

	// MastodonInstanceURL is the base URL of the instance the account lives on, eg. https://mastodon.social.
	MastodonInstanceURL string `gorm:"size:255;not null;default:''"`
	// MastodonAccountURL is the profile URL of the account, eg. https://mastodon.social/@dave.
	MastodonAccountURL  string `gorm:"size:255;not null;default:''"`
	MastodonAccessToken string `gorm:"size:255;not null;default:''"`

	// LastCheckinID is the ID of the last checkin posted for this link.
	LastCheckinID string `gorm:"size:64;not null;default:''"`
}

// Linked reports whether both platforms have been authorized.
// Only linked UserLinks may publish.
func (l *UserLink) Linked() bool {
	return l.SwarmAccessToken != "" && l.MastodonAccessToken != ""
}

// HasSwarm reports whether the Swarm authorization has completed.
func (l *UserLink) HasSwarm() bool {
	return l.SwarmAccessToken != ""
}

// HasMastodon reports whether the Mastodon authorization has completed.
func (l *UserLink) HasMastodon() bool {
	return l.MastodonAccessToken != ""
}

// assignments returns the columns to update for the non empty fields of l.
func (l *UserLink) assignments(now time.Time) map[string]any {
	cols := map[string]any{
		"updated_at": now,
	}
	set := func(col, v string) {
		if v != "" {
			cols[col] = v
		}
	}
	set("swarm_access_token", l.SwarmAccessToken)
	set("swarm_refresh_token", l.SwarmRefreshToken)
	set("mastodon_instance_url", l.MastodonInstanceURL)
	set("mastodon_account_url", l.MastodonAccountURL)
	set("mastodon_access_token", l.MastodonAccessToken)
	set("last_checkin_id", l.LastCheckinID)
	return cols
}

// Links is the credential store.
type Links struct {
	db *gorm.DB
}

func NewLinks(db *gorm.DB) *Links {
	return &Links{db: db}
}

// Get returns the UserLink for the given Swarm user ID.
// If there is no such link, gorm.ErrRecordNotFound is returned.
func (l *Links) Get(swarmUserID string) (*UserLink, error) {
	var link UserLink
	if err := l.db.Take(&link, "swarm_user_id = ?", swarmUserID).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// Upsert creates a UserLink, or merges the non empty fields of update into
// an existing one. Fields which are empty in update are left untouched.
// The merge is a single statement so concurrent upserts of the same link
// never leave it half written.
func (l *Links) Upsert(update *UserLink) (*UserLink, error) {
	now := time.Now()
	row := *update
	row.CreatedAt = now
	row.UpdatedAt = now
	err := l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "swarm_user_id"}},
		DoUpdates: clause.Assignments(update.assignments(now)),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	return l.Get(update.SwarmUserID)
}

// MarkPosted records checkinID as the last checkin posted for the link.
func (l *Links) MarkPosted(swarmUserID, checkinID string) error {
	return l.db.Model(&UserLink{}).Where("swarm_user_id = ?", swarmUserID).UpdateColumns(map[string]any{
		"last_checkin_id": checkinID,
		"updated_at":      time.Now(),
	}).Error
}

// Delete removes the UserLink for the given Swarm user ID.
// If there is no such link, gorm.ErrRecordNotFound is returned.
func (l *Links) Delete(swarmUserID string) error {
	res := l.db.Where("swarm_user_id = ?", swarmUserID).Delete(&UserLink{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SwarmFields returns a partial UserLink holding only the Swarm credentials of l.
func (l *UserLink) SwarmFields() *UserLink {
	return &UserLink{
		SwarmUserID:       l.SwarmUserID,
		SwarmAccessToken:  l.SwarmAccessToken,
		SwarmRefreshToken: l.SwarmRefreshToken,
	}
}

// MastodonFields returns a partial UserLink holding only the Mastodon credentials of l.
func (l *UserLink) MastodonFields() *UserLink {
	return &UserLink{
		SwarmUserID:         l.SwarmUserID,
		MastodonInstanceURL: l.MastodonInstanceURL,
		MastodonAccountURL:  l.MastodonAccountURL,
		MastodonAccessToken: l.MastodonAccessToken,
	}
}
