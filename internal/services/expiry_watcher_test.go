package services

import (
	"context"
	"testing"
	"time"

	"crosscall-backend/internal/metrics"
	"crosscall-backend/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryWatcherFlagsPastGraceRequests(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()

	now := time.Now()
	require.NoError(t, repo.Create(ctx, &models.CallRequest{
		ID:        "0x00000000000000000000000000000000000000000000000000000000000000a1",
		Requester: "0x1111111111111111111111111111111111111111",
		Nonce:     1,
		Status:    models.RequestStatusRequested,
		Expiry:    now.Add(-2 * time.Hour).Unix(),
	}))
	require.NoError(t, repo.Create(ctx, &models.CallRequest{
		ID:        "0x00000000000000000000000000000000000000000000000000000000000000a2",
		Requester: "0x1111111111111111111111111111111111111111",
		Nonce:     2,
		Status:    models.RequestStatusRequested,
		Expiry:    now.Add(time.Hour).Unix(),
	}))

	w := NewExpiryWatcher(repo, NewPushService(), time.Hour, time.Minute)
	before := testutil.ToFloat64(metrics.RequestsFlaggedCancelEligible)

	w.checkExpiries()

	row, err := repo.GetByID(ctx, "0x00000000000000000000000000000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.True(t, row.CancelEligible, "request past expiry + grace is flagged")
	assert.Equal(t, models.RequestStatusRequested, row.Status, "flagging never cancels")

	row, err = repo.GetByID(ctx, "0x00000000000000000000000000000000000000000000000000000000000000a2")
	require.NoError(t, err)
	assert.False(t, row.CancelEligible, "request inside its window is untouched")

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsFlaggedCancelEligible),
		"counter advances once per flag event")

	// An already-flagged request is not counted again.
	w.checkExpiries()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsFlaggedCancelEligible))
}
