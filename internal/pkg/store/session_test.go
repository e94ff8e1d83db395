package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"app-swap-go/internal/pkg/logger"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(mr.Addr(), "", 0, logger.NewClient("ERROR"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestSaveSession_RoundTrip saves a session and loads it back field by field
func TestSaveSession_RoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	in := &SwapSession{
		ID:            "sess-1",
		StationID:     "station-001",
		PlanID:        "plan-42",
		CustomerType:  "returning",
		OldBatteryID:  "BATT-OLD",
		NewBatteryID:  "BATT-NEW",
		EnergyWh:      240.5,
		ChargePercent: 83,
		State:         SessionOpen,
		StartedAt:     started,
	}
	require.NoError(t, c.SaveSession(ctx, in))

	out, err := c.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", out.ID)
	assert.Equal(t, "station-001", out.StationID)
	assert.Equal(t, "plan-42", out.PlanID)
	assert.Equal(t, "returning", out.CustomerType)
	assert.Equal(t, "BATT-OLD", out.OldBatteryID)
	assert.Equal(t, "BATT-NEW", out.NewBatteryID)
	assert.Equal(t, 240.5, out.EnergyWh)
	assert.Equal(t, 83, out.ChargePercent)
	assert.Equal(t, SessionOpen, out.State)
	assert.True(t, out.StartedAt.Equal(started))
	assert.True(t, out.SettledAt.IsZero(), "open session has no settled_at")
}

// TestSaveSession_RequiresID rejects a session without an id
func TestSaveSession_RequiresID(t *testing.T) {
	c := testClient(t)
	err := c.SaveSession(context.Background(), &SwapSession{StationID: "station-001"})
	assert.Error(t, err)
}

// TestGetSession_NotFound errors on an unknown id
func TestGetSession_NotFound(t *testing.T) {
	c := testClient(t)
	_, err := c.GetSession(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
}

// TestUpdateState stamps settled_at only on terminal transitions
func TestUpdateState(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	require.NoError(t, c.SaveSession(ctx, &SwapSession{
		ID: "sess-1", StationID: "station-001", State: SessionOpen, StartedAt: time.Now(),
	}))

	t.Run("settled stamps settled_at", func(t *testing.T) {
		require.NoError(t, c.UpdateState(ctx, "sess-1", SessionSettled))
		s, err := c.GetSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, SessionSettled, s.State)
		assert.False(t, s.SettledAt.IsZero())
	})

	t.Run("failed stamps settled_at", func(t *testing.T) {
		require.NoError(t, c.SaveSession(ctx, &SwapSession{
			ID: "sess-2", StationID: "station-001", State: SessionOpen, StartedAt: time.Now(),
		}))
		require.NoError(t, c.UpdateState(ctx, "sess-2", SessionFailed))
		s, err := c.GetSession(ctx, "sess-2")
		require.NoError(t, err)
		assert.Equal(t, SessionFailed, s.State)
		assert.False(t, s.SettledAt.IsZero())
	})
}

// TestSetTransaction records the settlement transaction id
func TestSetTransaction(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	require.NoError(t, c.SaveSession(ctx, &SwapSession{
		ID: "sess-1", StationID: "station-001", State: SessionOpen, StartedAt: time.Now(),
	}))

	require.NoError(t, c.SetTransaction(ctx, "sess-1", "tx-500"))
	s, err := c.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-500", s.TransactionID)
}

// TestRecentSessions lists ids newest first and honors the requested limit
func TestRecentSessions(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		require.NoError(t, c.SaveSession(ctx, &SwapSession{
			ID: id, StationID: "station-001", State: SessionOpen, StartedAt: time.Now(),
		}))
	}

	ids, err := c.RecentSessions(ctx, "station-001", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-3", "sess-2"}, ids)

	all, err := c.RecentSessions(ctx, "station-001", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-3", "sess-2", "sess-1"}, all)

	none, err := c.RecentSessions(ctx, "station-other", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestNew_Unreachable fails fast when Redis cannot be reached
func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(addr, "", 0, logger.NewClient("ERROR"))
	assert.Error(t, err)
}
