package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/pagination"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(DriverSQLite, "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func createTarget(t *testing.T, repo *TargetRepository, name string) *types.Target {
	t.Helper()

	target := &types.Target{Name: name, Hostname: name + ".local", Address: "10.0.0.1", Port: 9100, IsActive: true}
	require.NoError(t, repo.Create(context.Background(), target))
	require.NotZero(t, target.ID)
	return target
}

func TestMigrator_Version(t *testing.T) {
	db := setupTestDB(t)

	m, err := NewMigrator(db)
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Up again is a no-op and the shared connection stays usable.
	require.NoError(t, m.Up())
	require.NoError(t, db.Health(context.Background()))
}

func TestTargetRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTargetRepository(db)
	ctx := context.Background()

	web := createTarget(t, repo, "web-1")
	dbHost := createTarget(t, repo, "db-1")
	idle := &types.Target{Name: "idle", Address: "10.0.0.9", IsActive: false}
	require.NoError(t, repo.Create(ctx, idle))

	t.Run("validation", func(t *testing.T) {
		err := repo.Create(ctx, &types.Target{Name: ""})
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.Get(ctx, web.ID)
		require.NoError(t, err)
		assert.Equal(t, "web-1", got.Name)
		assert.Equal(t, "10.0.0.1:9100", got.Endpoint())

		_, err = repo.Get(ctx, 9999)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("list active skips inactive and deleted", func(t *testing.T) {
		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)

		require.NoError(t, repo.SoftDelete(ctx, dbHost.ID))
		active, err = repo.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, web.ID, active[0].ID)

		_, err = repo.Get(ctx, dbHost.ID)
		assert.True(t, errors.IsNotFound(err))
		assert.True(t, errors.IsNotFound(repo.SoftDelete(ctx, dbHost.ID)))
	})

	t.Run("set active", func(t *testing.T) {
		require.NoError(t, repo.SetActive(ctx, idle.ID, true))
		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 2)
	})

	t.Run("page source", func(t *testing.T) {
		page, err := pagination.Page[types.Target](ctx, repo.PageSource(), pagination.Request{PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.TotalCount)
		assert.Len(t, page.Items, 2)
		assert.False(t, page.HasNext)
	})
}

func TestSampleRepository(t *testing.T) {
	db := setupTestDB(t)
	targets := NewTargetRepository(db)
	repo := NewSampleRepository(db)
	ctx := context.Background()

	target := createTarget(t, targets, "web-1")

	_, found, err := repo.LatestByTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.False(t, found)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		s := &types.Sample{
			TargetID:    target.ID,
			CPUUsage:    float64(i),
			MemoryUsage: 40,
			DiskUsage:   50,
			Status:      types.StatusNormal,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Append(ctx, s))
	}
	degraded := types.NewDegradedSample(target.ID, base.Add(time.Hour))
	require.NoError(t, repo.Append(ctx, &degraded))

	latest, found, err := repo.LatestByTarget(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, degraded.ID, latest.ID)
	assert.True(t, latest.Degraded())
	assert.Equal(t, types.StatusCritical, latest.Status)

	src := repo.PageSource(target.ID)
	first, err := pagination.Page(ctx, src, pagination.Request{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, first.Items, 10)
	assert.Equal(t, int64(26), first.TotalCount)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)

	second, err := pagination.Page(ctx, src, pagination.Request{Cursor: first.NextCursor, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, second.Items, 10)
	assert.Greater(t, second.Items[0].ID, first.Items[9].ID)

	back, err := pagination.Page(ctx, src, pagination.Request{
		Cursor: second.PrevCursor, PageSize: 10, Direction: pagination.Backward,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Items, back.Items)
}

func TestAlertRepository(t *testing.T) {
	db := setupTestDB(t)
	targets := NewTargetRepository(db)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	target := createTarget(t, targets, "web-1")

	cpu := &types.Alert{
		TargetID: target.ID, Kind: types.AlertKindCPUUsage, Severity: types.SeverityCritical,
		Title: "High CPU Usage on web-1", Message: "CPU usage is at 92.00%, exceeding threshold of 80%",
		ThresholdValue: 80, ActualValue: 92,
	}
	mem := &types.Alert{
		TargetID: target.ID, Kind: types.AlertKindMemoryUsage, Severity: types.SeverityWarning,
		Title: "High Memory Usage on web-1", ThresholdValue: 85, ActualValue: 88,
	}
	require.NoError(t, repo.AppendBatch(ctx, []*types.Alert{cpu, mem}))
	require.NotZero(t, cpu.ID)
	require.NotZero(t, mem.ID)

	t.Run("unresolved lookup", func(t *testing.T) {
		got, found, err := repo.UnresolvedByTargetAndKind(ctx, target.ID, types.AlertKindCPUUsage)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, cpu.ID, got.ID)
		assert.Equal(t, types.SeverityCritical, got.Severity)
		assert.Equal(t, 92.0, got.ActualValue)

		_, found, err = repo.UnresolvedByTargetAndKind(ctx, target.ID, types.AlertKindDiskUsage)
		require.NoError(t, err)
		assert.False(t, found)

		open, err := repo.UnresolvedByTarget(ctx, target.ID)
		require.NoError(t, err)
		assert.Len(t, open, 2)
	})

	t.Run("duplicate open alert is a conflict", func(t *testing.T) {
		dup := &types.Alert{TargetID: target.ID, Kind: types.AlertKindCPUUsage, Severity: types.SeverityWarning, Title: "dup"}
		disk := &types.Alert{TargetID: target.ID, Kind: types.AlertKindDiskUsage, Severity: types.SeverityError, Title: "disk"}

		err := repo.AppendBatch(ctx, []*types.Alert{disk, dup})
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

		// The batch rolled back as a whole.
		_, found, err := repo.UnresolvedByTargetAndKind(ctx, target.ID, types.AlertKindDiskUsage)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("acknowledge", func(t *testing.T) {
		at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		got, err := repo.Acknowledge(ctx, cpu.ID, "oncall", at)
		require.NoError(t, err)
		assert.True(t, got.IsAcknowledged)
		require.NotNil(t, got.AcknowledgedBy)
		assert.Equal(t, "oncall", *got.AcknowledgedBy)

		stored, err := repo.Get(ctx, cpu.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsAcknowledged)
		require.NotNil(t, stored.AcknowledgedAt)
		assert.True(t, at.Equal(*stored.AcknowledgedAt))

		_, err = repo.Acknowledge(ctx, cpu.ID, "", at)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

		_, err = repo.Acknowledge(ctx, 9999, "oncall", at)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("resolve reopens the slot", func(t *testing.T) {
		got, err := repo.Resolve(ctx, cpu.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, got.IsResolved)

		_, err = repo.Resolve(ctx, cpu.ID, time.Now())
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

		_, err = repo.Acknowledge(ctx, cpu.ID, "oncall", time.Now())
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

		again := &types.Alert{TargetID: target.ID, Kind: types.AlertKindCPUUsage, Severity: types.SeverityWarning, Title: "again"}
		require.NoError(t, repo.AppendBatch(ctx, []*types.Alert{again}))
	})

	t.Run("filtered page source", func(t *testing.T) {
		page, err := pagination.Page(ctx, repo.PageSource(AlertFilter{TargetID: &target.ID}), pagination.Request{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.TotalCount)

		page, err = pagination.Page(ctx, repo.PageSource(AlertFilter{UnresolvedOnly: true}), pagination.Request{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.TotalCount)

		page, err = pagination.Page(ctx, repo.PageSource(AlertFilter{UnacknowledgedOnly: true}), pagination.Request{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.TotalCount)

		page, err = pagination.Page(ctx, repo.PageSource(AlertFilter{MinSeverity: types.SeverityCritical}), pagination.Request{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, cpu.ID, page.Items[0].ID)
	})
}
