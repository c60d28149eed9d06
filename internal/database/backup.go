package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"slotkeeper/internal/config"

	"github.com/rs/zerolog"
)

const snapshotPrefix = "slotkeeper_"

// BackupService writes consistent snapshots of the ledger with VACUUM INTO
// and prunes snapshots older than the retention window.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	l := logger.With().Str("component", "backup").Logger()
	return &BackupService{db: db, cfg: cfg, logger: &l, now: time.Now}
}

// Start snapshots once immediately and then on every tick until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	interval := 24 * time.Hour
	if s.cfg.Schedule != "" {
		if d, err := time.ParseDuration(s.cfg.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Str("schedule", s.cfg.Schedule).Msg("Invalid backup schedule, using 24h")
		}
	}
	s.logger.Info().Dur("interval", interval).Str("dir", s.cfg.StoragePath).Msg("Backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Snapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Ledger snapshot failed")
		}
		s.Prune()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Snapshot writes a new snapshot and returns its path. The snapshot is
// opened once afterwards to make sure it is readable.
func (s *BackupService) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := snapshotPrefix + s.now().UTC().Format("20060102_150405") + ".db"
	path := filepath.Join(s.cfg.StoragePath, name)

	if _, err := s.db.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}

	bookings, err := countBookings(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("verify snapshot: %w", err)
	}

	s.logger.Info().Str("path", path).Int("bookings", bookings).Msg("Ledger snapshot written")
	return path, nil
}

func countBookings(ctx context.Context, path string) (int, error) {
	snap, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	var n int
	if err := snap.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Prune removes snapshots older than RetentionDays and returns how many
// were deleted. Files not written by Snapshot are left alone.
func (s *BackupService) Prune() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	var stale []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, e.Name())
		}
	}
	sort.Strings(stale)

	removed := 0
	for _, name := range stale {
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to delete old snapshot")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old snapshots pruned")
	}
	return removed
}
