package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagerun/internal/controller"
	"stagerun/internal/report"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(id string, at time.Time) HistoryItem {
	return NewHistoryItem("run.yaml", report.Document{
		RunID:     id,
		State:     controller.Completed,
		Passed:    true,
		StartedAt: at,
		Requests:  42,
		Violated:  []string{},
	})
}

func TestSaveGet(t *testing.T) {
	s := openStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(item("a", at)))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "run.yaml", got.ConfigPath)
	assert.True(t, got.Timestamp.Equal(at))
	assert.Equal(t, uint64(42), got.Report.Requests)
	assert.Equal(t, controller.Completed, got.Report.State)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Save(HistoryItem{}))
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(item("b", base.Add(time.Minute))))
	require.NoError(t, s.Save(item("c", base.Add(2*time.Minute))))
	require.NoError(t, s.Save(item("a", base)))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "a", items[2].ID)
}

func TestSavePrunesOldest(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < MaxItems+5; i++ {
		require.NoError(t, s.Save(item(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*time.Second))))
	}

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, MaxItems)
	assert.Equal(t, fmt.Sprintf("run-%03d", MaxItems+4), items[0].ID)

	_, err = s.Get("run-000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("run-005")
	assert.NoError(t, err)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(item("persisted", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get("persisted")
	assert.NoError(t, err)
}
