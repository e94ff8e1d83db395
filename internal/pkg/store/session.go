package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Session states.
const (
	SessionOpen    = "open"
	SessionSettled = "settled"
	SessionFailed  = "failed"
)

// how many recent session ids are kept per station
const recentSessionsKept = 100

// SwapSession is one attendant swap from identification to settlement.
type SwapSession struct {
	ID            string
	StationID     string
	PlanID        string
	CustomerType  string
	OldBatteryID  string
	NewBatteryID  string
	EnergyWh      float64
	ChargePercent int
	State         string
	TransactionID string
	StartedAt     time.Time
	SettledAt     time.Time
}

func sessionKey(id string) string {
	return "swap:session:" + id
}

func stationKey(stationID string) string {
	return "swap:station:" + stationID + ":sessions"
}

// SaveSession writes the session hash and indexes it under its station.
func (c *Client) SaveSession(ctx context.Context, s *SwapSession) error {
	if s.ID == "" {
		return fmt.Errorf("session has no id")
	}
	fields := map[string]interface{}{
		"station_id":     s.StationID,
		"plan_id":        s.PlanID,
		"customer_type":  s.CustomerType,
		"old_battery_id": s.OldBatteryID,
		"new_battery_id": s.NewBatteryID,
		"energy_wh":      s.EnergyWh,
		"charge_percent": s.ChargePercent,
		"state":          s.State,
		"transaction_id": s.TransactionID,
		"started_at":     s.StartedAt.UTC().Format(time.RFC3339),
	}
	if !s.SettledAt.IsZero() {
		fields["settled_at"] = s.SettledAt.UTC().Format(time.RFC3339)
	}
	if err := c.rdb.HSet(ctx, sessionKey(s.ID), fields).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}

	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, stationKey(s.StationID), s.ID)
	pipe.LTrim(ctx, stationKey(s.StationID), 0, recentSessionsKept-1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.lc.Warnf("Failed to index session %s for station %s: %s", s.ID, s.StationID, err.Error())
	}
	return nil
}

// GetSession loads one session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*SwapSession, error) {
	fields, err := c.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("session %s not found", id)
	}

	s := &SwapSession{
		ID:            id,
		StationID:     fields["station_id"],
		PlanID:        fields["plan_id"],
		CustomerType:  fields["customer_type"],
		OldBatteryID:  fields["old_battery_id"],
		NewBatteryID:  fields["new_battery_id"],
		State:         fields["state"],
		TransactionID: fields["transaction_id"],
	}
	s.EnergyWh, _ = strconv.ParseFloat(fields["energy_wh"], 64)
	s.ChargePercent, _ = strconv.Atoi(fields["charge_percent"])
	s.StartedAt, _ = time.Parse(time.RFC3339, fields["started_at"])
	if v, ok := fields["settled_at"]; ok {
		s.SettledAt, _ = time.Parse(time.RFC3339, v)
	}
	return s, nil
}

// UpdateState transitions a session's state, stamping settled_at on
// terminal states.
func (c *Client) UpdateState(ctx context.Context, id, state string) error {
	fields := map[string]interface{}{"state": state}
	if state == SessionSettled || state == SessionFailed {
		fields["settled_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := c.rdb.HSet(ctx, sessionKey(id), fields).Err(); err != nil {
		return fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return nil
}

// SetTransaction records the settlement transaction id.
func (c *Client) SetTransaction(ctx context.Context, id, txID string) error {
	return c.rdb.HSet(ctx, sessionKey(id), "transaction_id", txID).Err()
}

// RecentSessions returns up to n most recent session ids for a station.
func (c *Client) RecentSessions(ctx context.Context, stationID string, n int64) ([]string, error) {
	if n <= 0 {
		n = recentSessionsKept
	}
	ids, err := c.rdb.LRange(ctx, stationKey(stationID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for station %s: %w", stationID, err)
	}
	return ids, nil
}
