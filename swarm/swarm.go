// Package swarm talks to the Swarm (Foursquare) API and verifies the
// checkins it pushes to us.
package swarm

import (
	"fmt"
	"time"
)

// User is a Swarm user, either the author of a checkin or a companion.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Handle    string `json:"handle"`
}

func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Location struct {
	City    string   `json:"city"`
	State   string   `json:"state"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

// Place returns a short human description of the location, or the empty
// string if there is nothing useful to say.
func (l *Location) Place() string {
	switch {
	case l.City != "" && l.State != "":
		return l.City + ", " + l.State
	case l.City == "" && l.State != "" && l.Country != "":
		return l.State + ", " + l.Country
	case l.City == "" && l.State == "" && l.Country != "":
		return l.Country
	default:
		return ""
	}
}

// MapURL returns an OpenStreetMap link to the location's coordinates, or the
// empty string if the location has none.
func (l *Location) MapURL() string {
	if l.Lat == nil || l.Lng == nil {
		return ""
	}
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.5f&mlon=%.5f", *l.Lat, *l.Lng)
}

type Venue struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location Location `json:"location"`
}

// Checkin is a Swarm checkin, as pushed to us or as returned by the checkin
// details endpoint.
type Checkin struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Type      string `json:"type"`
	Private   bool   `json:"private"`
	Shout     string `json:"shout"`
	User      User   `json:"user"`
	Venue     Venue  `json:"venue"`
	With      []User `json:"with"`
	// ShortURL is only present in checkin details.
	ShortURL string `json:"checkinShortUrl"`

	// Raw is the checkin as it was received.
	Raw []byte `json:"-"`
}

// OccurredAt returns the time the checkin was made.
func (c *Checkin) OccurredAt() time.Time {
	return time.Unix(c.CreatedAt, 0)
}
