package database

import (
	"context"
	"testing"

	"github.com/clinicops/clinic-portal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationSource_Sequence(t *testing.T) {
	src, err := migrationSource()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	next, err := src.Next(first)
	require.NoError(t, err)
	assert.Equal(t, uint(2), next)

	for _, version := range []uint{first, next} {
		up, _, err := src.ReadUp(version)
		require.NoError(t, err)
		_ = up.Close()

		down, _, err := src.ReadDown(version)
		require.NoError(t, err)
		_ = down.Close()
	}
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{})
	assert.ErrorContains(t, err, "DATABASE_URL")
}
