package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"slotkeeper/internal/database"
	"slotkeeper/internal/models"
	"slotkeeper/internal/service"
	"slotkeeper/internal/timezone"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type SeedFile struct {
	EventTypes []*models.EventType `yaml:"event_types"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		seedPath = flag.String("seed", "configs/event_types.yaml", "path to event_types.yaml")
		dbPath   = flag.String("db", "./data/slotkeeper.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*seedPath)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var seed SeedFile
	if err = yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	if len(seed.EventTypes) == 0 {
		return fmt.Errorf("no event types in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := service.NewEventTypeService(db, timezone.NewClock(), &logger)
	created, err := svc.SeedEventTypes(ctx, seed.EventTypes)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	logger.Info().
		Int("created", created).
		Int("skipped", len(seed.EventTypes)-created).
		Msg("Event type seed completed")
	return nil
}
