package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A Registration is this application's client registration on a Mastodon instance.
type Registration struct {
	InstanceURL  string `gorm:"size:255;primaryKey;autoIncrement:false"`
	CreatedAt    time.Time
	ClientID     string `gorm:"size:255;not null"`
	ClientSecret string `gorm:"size:255;not null"`
	RedirectURI  string `gorm:"size:255;not null"`
	Scopes       string `gorm:"size:255;not null;default:''"`
}

type Registrations struct {
	db *gorm.DB
}

func NewRegistrations(db *gorm.DB) *Registrations {
	return &Registrations{db: db}
}

// Find returns the Registration for the instance.
// If there is no such registration, gorm.ErrRecordNotFound is returned.
func (r *Registrations) Find(instanceURL string) (*Registration, error) {
	var reg Registration
	if err := r.db.Take(&reg, "instance_url = ?", instanceURL).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

// Save creates or replaces the Registration for reg.InstanceURL.
func (r *Registrations) Save(reg *Registration) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_url"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_id", "client_secret", "redirect_uri", "scopes"}),
	}).Create(reg).Error
}
