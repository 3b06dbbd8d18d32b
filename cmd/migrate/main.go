// Package main applies the embedded k1serial schema migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kaonic/k1serial/internal/config"
	"github.com/kaonic/k1serial/internal/db"
	"github.com/rs/zerolog"
)

func main() {
	var (
		dbURL   = flag.String("db", "", "Database URL (default DATABASE_URL from the environment or .env)")
		showVer = flag.Bool("version", false, "Show current schema version")
		list    = flag.Bool("list", false, "List embedded migrations, marking applied ones when a database is reachable")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("component", "migrate").
		Logger()

	if err := config.LoadDotEnv(); err != nil {
		logger.Fatal().Err(err).Msg("failed to load .env file")
	}

	url := *dbURL
	if url == "" {
		url = config.LoadServerConfig().DatabaseURL
	}
	if url == "" && !*list {
		logger.Fatal().Msg("database URL required: use -db or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var database *db.DB
	if url != "" {
		cfg := db.DefaultConfig(url)
		cfg.MaxConns = 2
		cfg.MinConns = 1

		var err error
		database, err = db.New(ctx, cfg, logger)
		if err != nil {
			if !*list {
				logger.Fatal().Err(err).Msg("failed to connect to database")
			}
			logger.Warn().Err(err).Msg("database unreachable, listing without applied state")
			database = nil
		} else {
			defer database.Close()
		}
	}

	switch {
	case *list:
		listMigrations(ctx, database, logger)
	case *showVer:
		version, err := database.CurrentVersion(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get schema version")
		}
		fmt.Printf("Current schema version: %d\n", version)
	default:
		before, _ := database.CurrentVersion(ctx)
		if err := database.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		after, err := database.CurrentVersion(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("could not read schema version")
			return
		}
		logger.Info().Int("from", before).Int("to", after).Msg("schema up to date")
	}
}

func listMigrations(ctx context.Context, database *db.DB, logger zerolog.Logger) {
	migrations, err := db.GetMigrations()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read embedded migrations")
	}
	if len(migrations) == 0 {
		fmt.Println("No migrations embedded")
		return
	}

	current := -1
	if database != nil {
		if v, err := database.CurrentVersion(ctx); err == nil {
			current = v
		}
	}

	for _, m := range migrations {
		state := "unknown"
		switch {
		case current < 0:
		case m.Version <= current:
			state = "applied"
		default:
			state = "pending"
		}
		fmt.Printf("%03d  %-8s %s\n", m.Version, state, m.Name)
	}
}
