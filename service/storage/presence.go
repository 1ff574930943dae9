package storage

import (
	"context"
	"time"

	redisx "GotMail/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: mail:presence:<user>
// Value: gateway_id, TTL controls the online validity period.
// Written by the gateway on the 0→1 / 1→0 connection transitions,
// so it mirrors the broker subscription state of that process.
func presenceKey(user string) string { return "mail:presence:" + user }

// PresenceOnline sets the user as online and renews the TTL
func PresenceOnline(ctx context.Context, user, gatewayID string, ttl time.Duration) error {
	if !redisx.Ready() {
		return nil
	}
	return redisx.GetRedis().Set(ctx, presenceKey(user), gatewayID, ttl).Err()
}

// PresenceOffline actively sets the user offline (deletes the key)
func PresenceOffline(ctx context.Context, user string) error {
	if !redisx.Ready() {
		return nil
	}
	return redisx.GetRedis().Del(ctx, presenceKey(user)).Err()
}

// PresenceLookup checks whether the user is online
func PresenceLookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	if !redisx.Ready() {
		return "", false, nil
	}
	val, err := redisx.GetRedis().Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
