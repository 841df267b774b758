package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"prdigy/api/internal/migration"
)

var _ migration.Markers = (*DeviceMarkers)(nil)

// deviceTTL bounds how long an idle device keeps its guest markers.
const deviceTTL = 180 * 24 * time.Hour

// DeviceMarkers stores one device's guest id and migration record under
// device:<id>:guest and device:<id>:migration.
type DeviceMarkers struct {
	client *redis.Client
	base   string
}

// Device returns the markers of deviceID.
func (s *RedisStore) Device(deviceID string) *DeviceMarkers {
	return &DeviceMarkers{client: s.client, base: s.devicePrefix + deviceID}
}

func (d *DeviceMarkers) guestKey() string     { return d.base + ":guest" }
func (d *DeviceMarkers) migrationKey() string { return d.base + ":migration" }

func (d *DeviceMarkers) GuestID(ctx context.Context) (string, error) {
	id, err := d.client.Get(ctx, d.guestKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get guest id: %w", err)
	}
	return id, nil
}

func (d *DeviceMarkers) SetGuestID(ctx context.Context, guestUserID string) error {
	if err := d.client.Set(ctx, d.guestKey(), guestUserID, deviceTTL).Err(); err != nil {
		return fmt.Errorf("set guest id: %w", err)
	}
	return nil
}

func (d *DeviceMarkers) ClearGuestID(ctx context.Context) error {
	if err := d.client.Del(ctx, d.guestKey()).Err(); err != nil {
		return fmt.Errorf("clear guest id: %w", err)
	}
	return nil
}

func (d *DeviceMarkers) Status(ctx context.Context) (migration.Status, error) {
	var status migration.Status
	raw, err := d.client.Get(ctx, d.migrationKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("get migration status: %w", err)
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return status, fmt.Errorf("decode migration status: %w", err)
	}
	return status, nil
}

func (d *DeviceMarkers) SaveStatus(ctx context.Context, status migration.Status) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode migration status: %w", err)
	}
	if err := d.client.Set(ctx, d.migrationKey(), raw, deviceTTL).Err(); err != nil {
		return fmt.Errorf("save migration status: %w", err)
	}
	return nil
}
