package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rosca-engine/rosca"
	"github.com/warp/rosca-engine/rosca/storetest"
	"github.com/warp/rosca-engine/store/sqlite"
)

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) rosca.PoolStore {
		s, err := sqlite.New(filepath.Join(t.TempDir(), "rosca.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) rosca.PoolStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rosca.db")

	// GIVEN: a pool with a contribution written by one store instance
	s1, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s1.Create(ctx, storetest.NewActivePool(t, "p-reopen", 3)))
	_, err = s1.Update(ctx, "p-reopen", func(p *rosca.Pool) error {
		return p.RecordContribution(2, "m2", decimal.NewFromInt(100), p.CreatedAt)
	})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// WHEN: the file is opened again
	s2, err := sqlite.New(path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(ctx, "p-reopen")

	// THEN: schedule and contribution are intact
	require.NoError(t, err)
	assert.Equal(t, rosca.StatusActive, got.Status)
	require.Len(t, got.Config.Periods, 3)
	require.Len(t, got.Config.Periods[1].Contributions, 1)
	assert.Equal(t, rosca.MemberID("m2"), got.Config.Periods[1].Contributions[0].MemberID)
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(ctx, storetest.NewActivePool(t, "p-1", 2)))
	require.NoError(t, s.Reset(ctx))

	pools, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)
}
