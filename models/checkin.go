package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrAlreadyFinalized is returned by Finalize when the checkin is no longer reserved.
var ErrAlreadyFinalized = errors.New("checkin already finalized")

// CheckinOutcome records what happened to a checkin.
type CheckinOutcome string

const (
	// Reserved checkins have been accepted but not yet finalized.
	Reserved        CheckinOutcome = "reserved"
	Posted          CheckinOutcome = "posted"
	SkippedUnlinked CheckinOutcome = "skipped-unlinked"
	SkippedPrivate  CheckinOutcome = "skipped-private"
	FailedPermanent CheckinOutcome = "failed-permanent"
)

func (CheckinOutcome) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('reserved', 'posted', 'skipped-unlinked', 'skipped-private', 'failed-permanent')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// A Checkin is the ledger entry for a Swarm checkin ID. A Checkin is
// created, reserved, when the push for it is first accepted. Checkins are
// never deleted, so a checkin ID can be reserved at most once.
type Checkin struct {
	ID          string `gorm:"size:64;primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
	SwarmUserID string         `gorm:"size:64;not null;index"`
	Outcome     CheckinOutcome `gorm:"not null;index"`
	ProcessedAt *time.Time
	// StatusID is the ID of the Mastodon status, if posted.
	StatusID string `gorm:"size:64;not null;default:''"`
	// LastResult is the error which caused the checkin to fail, if any.
	LastResult string `gorm:"type:text;"`
}

// A CheckinRequest queues a reserved checkin for delivery.
// CheckinRequests are created alongside their Checkin by Checkins.Reserve and
// processed by the checkin processor in the background.
type CheckinRequest struct {
	Request

	CheckinID string   `gorm:"size:64;uniqueIndex;not null"`
	Checkin   *Checkin `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	// Payload is the checkin as pushed by Swarm.
	Payload []byte `gorm:"not null"`
}

// Checkins is the dedup ledger.
type Checkins struct {
	db *gorm.DB
}

func NewCheckins(db *gorm.DB) *Checkins {
	return &Checkins{db: db}
}

// Reserve records checkinID as seen and queues payload for delivery.
// Reserve returns true if this call reserved the checkin, false if it had
// already been reserved, by this or any earlier delivery of the push.
func (c *Checkins) Reserve(checkinID, swarmUserID string, payload []byte) (bool, error) {
	var fresh bool
	err := c.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Checkin{
			ID:          checkinID,
			SwarmUserID: swarmUserID,
			Outcome:     Reserved,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		fresh = true
		return tx.Create(&CheckinRequest{
			CheckinID: checkinID,
			Payload:   payload,
		}).Error
	})
	return fresh && err == nil, err
}

// Claim removes req from the queue. Only the caller for which Claim returns
// true may deliver the request.
func (c *Checkins) Claim(req *CheckinRequest) (bool, error) {
	res := c.db.Where("id = ?", req.ID).Delete(&CheckinRequest{})
	return res.RowsAffected == 1, res.Error
}

// Finalize records the outcome of a reserved checkin. If the checkin is not
// reserved, ErrAlreadyFinalized is returned.
func (c *Checkins) Finalize(checkinID string, outcome CheckinOutcome, statusID, result string) error {
	now := time.Now()
	res := c.db.Model(&Checkin{}).Where("id = ? AND outcome = ?", checkinID, Reserved).UpdateColumns(map[string]any{
		"outcome":      outcome,
		"processed_at": &now,
		"status_id":    statusID,
		"last_result":  result,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

// Find returns the Checkin for checkinID.
// If there is no such checkin, gorm.ErrRecordNotFound is returned.
func (c *Checkins) Find(checkinID string) (*Checkin, error) {
	var checkin Checkin
	if err := c.db.Take(&checkin, "id = ?", checkinID).Error; err != nil {
		return nil, err
	}
	return &checkin, nil
}

// Stale returns checkins reserved before the given time which were never
// finalized and are no longer queued; their delivery was interrupted and they
// will not be retried.
func (c *Checkins) Stale(before time.Time) ([]Checkin, error) {
	var checkins []Checkin
	err := c.db.Where("outcome = ? AND created_at < ?", Reserved, before).
		Where("id NOT IN (?)", c.db.Model(&CheckinRequest{}).Select("checkin_id")).
		Order("created_at").
		Find(&checkins).Error
	return checkins, err
}

// PendingScope selects queued CheckinRequests, oldest first.
func PendingScope(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}
