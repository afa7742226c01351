/*
sweeper_test.go - Delivery sweeper tests

Tests for:
- Due vs future notifications in a single sweep
- Retry behavior when delivery fails
*/
package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsla/health-engine/ledger"
	"github.com/vsla/health-engine/store/sqlite"
)

func TestSweep_DeliversDueOnly(t *testing.T) {
	// GIVEN: An unscheduled notification and a far-future one
	// WHEN: Sweeping once
	// THEN: Only the due notification is handed off and stamped

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)

	future := time.Now().Add(24 * time.Hour)
	due := &ledger.Notification{UserID: user, Title: "now", Message: "now", Type: ledger.NotifySystem}
	later := &ledger.Notification{UserID: user, Title: "later", Message: "later",
		Type: ledger.NotifySystem, ScheduledFor: &future}
	require.NoError(t, store.CreateNotification(ctx, due))
	require.NoError(t, store.CreateNotification(ctx, later))

	var delivered []string
	sweeper := NewSweeper(store, func(ctx context.Context, n ledger.Notification) error {
		delivered = append(delivered, n.ID)
		return nil
	}, nil)
	sweeper.Sweep(ctx)

	require.Len(t, delivered, 1)
	assert.Equal(t, due.ID, delivered[0])

	pending, err := store.PendingDelivery(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "future notification stays queued")
	assert.Equal(t, later.ID, pending[0].ID)
}

func TestSweep_FailedDeliveryRetries(t *testing.T) {
	// GIVEN: A delivery function that fails once then succeeds
	// WHEN: Sweeping twice
	// THEN: The notification stays queued after the failure and is
	//       stamped after the success

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	user := seedUser(t, store, "u-1", ledger.RoleYouth)
	n := &ledger.Notification{UserID: user, Title: "hi", Message: "hi", Type: ledger.NotifySystem}
	require.NoError(t, store.CreateNotification(ctx, n))

	attempts := 0
	sweeper := NewSweeper(store, func(ctx context.Context, _ ledger.Notification) error {
		attempts++
		if attempts == 1 {
			return errors.New("gateway timeout")
		}
		return nil
	}, nil)

	sweeper.Sweep(ctx)
	pending, err := store.PendingDelivery(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed delivery leaves the notification queued")

	sweeper.Sweep(ctx)
	pending, err = store.PendingDelivery(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, attempts)
}
