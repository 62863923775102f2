package main

import (
	"os"

	"github.com/alecthomas/kong"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Context struct {
	Debug bool
	Log   *slog.Logger

	gorm.Config
}

var cli struct {
	Debug bool   `help:"Enable debug mode." env:"SWARMDON_DEBUG"`
	DSN   string `help:"data source name" required:"" env:"SWARMDON_DSN"`

	AutoMigrate  AutoMigrateCmd  `cmd:"" help:"Automigrate the database."`
	Serve        ServeCmd        `cmd:"" help:"Serve the bridge."`
	ShowLink     ShowLinkCmd     `cmd:"" help:"Show the link for a Swarm user."`
	DeleteLink   DeleteLinkCmd   `cmd:"" help:"Delete the link for a Swarm user."`
	HouseKeeping HouseKeepingCmd `cmd:"" help:"Purge expired authorizations and report interrupted deliveries."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("swarmdon"),
		kong.Description("Post Swarm checkins to Mastodon."),
		kong.Configuration(kong.JSON, "/etc/swarmdon.json", "~/.swarmdon.json"),
	)

	level, gormLevel := slog.LevelInfo, logger.Warn
	if cli.Debug {
		level, gormLevel = slog.LevelDebug, logger.Info
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	err := ctx.Run(&Context{
		Debug: cli.Debug,
		Log:   log,
		Config: gorm.Config{
			Dialector:      newDialector(cli.DSN),
			TranslateError: true,
			Logger:         logger.Default.LogMode(gormLevel),
		},
	})
	ctx.FatalIfErrorf(err)
}

// withTransaction runs fn in a transaction, committing if fn returns nil.
func withTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	return db.Transaction(fn)
}
