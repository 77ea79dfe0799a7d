package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-harvester/pkg/models"
	"data-harvester/pkg/utils"
)

func newTestRecordStore(t *testing.T) *SQLRecordStore {
	t.Helper()
	store, err := OpenRecordStore(context.Background(), "", t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		stateDir   string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"empty uses state dir", "", "/var/lib/harvester", "sqlite", filepath.Join("/var/lib/harvester", "acquisition.db"), false},
		{"empty state dir", "", "", "sqlite", "acquisition.db", false},
		{"sqlite relative", "sqlite://data/acq.db", "", "sqlite", "data/acq.db", false},
		{"sqlite absolute", "sqlite:///tmp/acq.db", "", "sqlite", "/tmp/acq.db", false},
		{"file uri", "file:acq.db?cache=shared", "", "sqlite", "file:acq.db?cache=shared", false},
		{"postgres", "postgres://u:p@db:5432/harvest?sslmode=disable", "", "postgres", "postgres://u:p@db:5432/harvest?sslmode=disable", false},
		{"postgresql", "postgresql://db/harvest", "", "postgres", "postgresql://db/harvest", false},
		{"sqlite without path", "sqlite://", "", "", "", true},
		{"unsupported", "mysql://db/harvest", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := ResolveDSN(tt.url, tt.stateDir)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, utils.ErrConfigValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}

func TestOpenRecordStore_CreatesDefaultFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store, err := OpenRecordStore(context.Background(), "", dir, testLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "sqlite", store.Driver())
	assert.FileExists(t, filepath.Join(dir, DefaultDBFile))
}

func TestSQLRecordStore_RecordAndLatest(t *testing.T) {
	store := newTestRecordStore(t)
	ctx := context.Background()

	ai := 72.0
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, models.AcquisitionRecord{
		URL: "https://example.org/a.csv", FileName: "a.csv", Depth: 1,
		ContentType: "text/csv", FileSizeKB: 1.5, AIScore: &ai, Timestamp: ts,
	}))
	require.NoError(t, store.Record(ctx, models.AcquisitionRecord{
		URL: "https://example.org/b.json", FileName: "b.json", Depth: 2,
		FileSizeKB: 0.25, Timestamp: ts.Add(time.Minute),
	}))

	records, err := store.Latest(ctx, 50)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, "b.json", records[0].FileName)
	assert.Nil(t, records[0].AIScore)
	assert.Empty(t, records[0].ContentType)
	assert.Equal(t, 2, records[0].Depth)

	assert.Equal(t, "a.csv", records[1].FileName)
	require.NotNil(t, records[1].AIScore)
	assert.Equal(t, 72.0, *records[1].AIScore)
	assert.Equal(t, "text/csv", records[1].ContentType)
	assert.Equal(t, 1.5, records[1].FileSizeKB)
	assert.True(t, ts.Equal(records[1].Timestamp))
	assert.Greater(t, records[0].ID, records[1].ID)

	limited, err := store.Latest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b.json", limited[0].FileName)

	none, err := store.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLRecordStore_Clear(t *testing.T) {
	store := newTestRecordStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, models.AcquisitionRecord{URL: "https://example.org/x", FileName: "x"}))
	}
	n, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	records, err := store.Latest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLRecordStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenRecordStore(ctx, "", dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Record(ctx, models.AcquisitionRecord{URL: "https://example.org/keep.csv", FileName: "keep.csv"}))
	require.NoError(t, store.Close())

	reopened, err := OpenRecordStore(ctx, "sqlite://"+filepath.Join(dir, DefaultDBFile), "", testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Latest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "keep.csv", records[0].FileName)
}
