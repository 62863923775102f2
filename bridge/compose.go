package bridge

import (
	"strings"

	"github.com/davecheney/swarmdon/swarm"
)

// Compose returns the text of the status for the checkin. friends maps Swarm
// handles to Mastodon accounts, which companions are mentioned as.
// Compose is a pure function of its arguments.
func Compose(c *swarm.Checkin, friends map[string]string) string {
	where := c.Venue.Name
	if place := c.Venue.Location.Place(); place != "" {
		where += " in " + place
	}

	var b strings.Builder
	if s := shout(c, friends); s != "" {
		b.WriteString(s)
		b.WriteString(" (@ ")
		b.WriteString(where)
		b.WriteString(")")
	} else {
		b.WriteString("I'm at ")
		b.WriteString(where)
	}
	if c.ShortURL != "" {
		b.WriteString(" ")
		b.WriteString(c.ShortURL)
	}
	if m := c.Venue.Location.MapURL(); m != "" {
		b.WriteString("\n")
		b.WriteString(m)
	}
	return b.String()
}

// shout returns the checkin's shout with companions mentioned. Swarm appends
// "with A, B" to the shout of a checkin with companions; a shout which is
// nothing but that list is treated as no shout at all.
func shout(c *swarm.Checkin, friends map[string]string) string {
	s := strings.TrimSpace(c.Shout)
	if s == "" || len(c.With) == 0 {
		return s
	}

	names := make([]string, 0, len(c.With))
	mentions := make([]string, 0, len(c.With))
	for _, u := range c.With {
		names = append(names, u.FirstName)
		if acct, ok := friends[u.Handle]; ok && u.Handle != "" {
			mentions = append(mentions, "@"+strings.TrimPrefix(acct, "@"))
		} else {
			mentions = append(mentions, u.FirstName)
		}
	}
	suffix := "with " + strings.Join(names, ", ")
	for strings.HasSuffix(s, suffix) {
		s = strings.TrimSuffix(s, suffix)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return s + " with " + strings.Join(mentions, ", ")
}
