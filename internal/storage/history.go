package storage

import (
	"os"
	"path/filepath"
	"time"

	"stagerun/internal/report"
)

// MaxItems is how many runs the history keeps; older runs are pruned on Save.
const MaxItems = 100

// HistoryItem is one finished run.
type HistoryItem struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	ConfigPath string          `json:"config_path"`
	Report     report.Document `json:"report"`
}

// NewHistoryItem wraps a report document for storage.
func NewHistoryItem(configPath string, d report.Document) HistoryItem {
	return HistoryItem{
		ID:         d.RunID,
		Timestamp:  d.StartedAt,
		ConfigPath: configPath,
		Report:     d,
	}
}

// DefaultPath is $HOME/.stagerun/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".stagerun", "history.db"), nil
}
