package file

import (
	"context"
	"testing"
	"time"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentRepository_SaveAndGet(t *testing.T) {
	repo := NewDeploymentRepository(t.TempDir())
	ctx := context.Background()

	deployment, err := models.NewDeployment("dep-1", "flow-1", "nightly", "0 2 * * *")
	require.NoError(t, err)

	err = repo.Save(ctx, deployment)
	require.NoError(t, err)

	retrieved, err := repo.GetByID(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", retrieved.CronExpression)
	assert.True(t, retrieved.Active)
	assert.False(t, retrieved.NextDueAt.IsZero())
}

func TestDeploymentRepository_Save_Invalid(t *testing.T) {
	repo := NewDeploymentRepository(t.TempDir())

	err := repo.Save(context.Background(), &models.Deployment{ID: "dep-1"})
	assert.ErrorIs(t, err, models.ErrInvalidDeployment)
}

func TestDeploymentRepository_GetByID_NotFound(t *testing.T) {
	repo := NewDeploymentRepository(t.TempDir())

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsDeploymentNotFound(err))
}

func TestDeploymentRepository_ListDue(t *testing.T) {
	repo := NewDeploymentRepository(t.TempDir())
	ctx := context.Background()

	hourly, err := models.NewDeployment("dep-hourly", "flow-1", "hourly", "0 * * * *")
	require.NoError(t, err)

	daily, err := models.NewDeployment("dep-daily", "flow-1", "daily", "0 0 * * *")
	require.NoError(t, err)

	inactive, err := models.NewDeployment("dep-off", "flow-1", "disabled", "* * * * *")
	require.NoError(t, err)
	inactive.Active = false

	for _, deployment := range []*models.Deployment{hourly, daily, inactive} {
		err = repo.Save(ctx, deployment)
		require.NoError(t, err)
	}

	// Nothing is due before the earliest next due time.
	due, err := repo.ListDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)

	// Far enough in the future everything active is due; the inactive
	// deployment never fires.
	due, err = repo.ListDue(ctx, time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 2)

	ids := []string{due[0].ID, due[1].ID}
	assert.Contains(t, ids, "dep-hourly")
	assert.Contains(t, ids, "dep-daily")
}
