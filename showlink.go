package main

import (
	"fmt"
	"os"

	"github.com/davecheney/swarmdon/models"
	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

type ShowLinkCmd struct {
	SwarmUserID string `required:"" help:"The Swarm user ID of the link to display."`
	Tokens      bool   `help:"Include access tokens in the output."`
}

func (s *ShowLinkCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	link, err := models.NewLinks(db).Get(s.SwarmUserID)
	if err != nil {
		return fmt.Errorf("failed to find link %s: %w", s.SwarmUserID, err)
	}
	out := map[string]any{
		"swarm_user_id":         link.SwarmUserID,
		"created_at":            link.CreatedAt,
		"updated_at":            link.UpdatedAt,
		"linked":                link.Linked(),
		"swarm_authorized":      link.HasSwarm(),
		"swarm_refreshable":     link.SwarmRefreshToken != "",
		"mastodon_instance_url": link.MastodonInstanceURL,
		"mastodon_account_url":  link.MastodonAccountURL,
		"last_checkin_id":       link.LastCheckinID,
	}
	if s.Tokens {
		out["swarm_access_token"] = link.SwarmAccessToken
		out["swarm_refresh_token"] = link.SwarmRefreshToken
		out["mastodon_access_token"] = link.MastodonAccessToken
	}
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{
		Indent: "  ",
	}, os.Stdout, out)
}
