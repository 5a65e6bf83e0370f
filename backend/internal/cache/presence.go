package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache is the cross-instance room roster. Entries expire logically
// (ZSET score = expireAt) so a crashed server's members disappear without
// anyone having to observe the crash; live connections refresh their entry
// on every heartbeat and remove it synchronously on close.
type PresenceCache interface {
	AddMember(ctx context.Context, canvasID string, userID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, canvasID string, userID uint64) error
	GetAliveMembers(ctx context.Context, canvasID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, canvasID string, userID uint64, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, canvasID string, userID uint64) ([]byte, error)
}

type PresenceMember struct {
	UserID   uint64
	Username string
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember upserts the roster entry; calling it again is how the TTL is
// refreshed.
func (p *redisPresence) AddMember(ctx context.Context, canvasID string, userID uint64, username string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, rosterKey(canvasID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(canvasID), userID, username)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, canvasID string, userID uint64) error {
	uid := strconv.FormatUint(userID, 10)
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, rosterKey(canvasID), uid)
	tx.HDel(ctx, namesKey(canvasID), uid)
	tx.Del(ctx, cursorKey(canvasID, userID))
	_, err := tx.Exec(ctx)
	return err
}

// pruneScript drops roster entries whose logical TTL has passed, names
// included, in one round trip.
//
// KEYS[1] = rosterKey, KEYS[2] = namesKey, ARGV[1] = now (unix seconds)
var pruneScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) GetAliveMembers(ctx context.Context, canvasID string) ([]PresenceMember, error) {
	now := time.Now().Unix()
	if _, err := pruneScript.Run(ctx, p.rdb, []string{rosterKey(canvasID), namesKey(canvasID)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, rosterKey(canvasID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(canvasID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, idStr := range aliveIDs {
		uid, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, PresenceMember{UserID: uid, Username: name})
	}
	return members, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, canvasID string, userID uint64, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(canvasID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, canvasID string, userID uint64) ([]byte, error) {
	data, err := p.rdb.Get(ctx, cursorKey(canvasID, userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
