package cli

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/infrastructure/config"
	"github.com/finlake/finsync/internal/infrastructure/database"
)

// openDatabase loads configuration and connects to the task store.
func openDatabase() (*gorm.DB, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// closeDatabase releases the connection, ignoring close errors: the CLI is a
// short-lived process.
func closeDatabase(db *gorm.DB) {
	_ = database.Close(db)
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", value)
	}
	return t, nil
}

// formatTime renders a nullable timestamp for table output.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
