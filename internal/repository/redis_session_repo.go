package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/chatgate/internal/model"
)

const redisKeyPrefix = "chatgate:"

// createExclusiveScript は旧セッションの削除と新セッションの登録を1回の実行で行う。
// KEYS[1]=identityキー, KEYS[2]=新セッションキー
// ARGV[1]=セッションJSON, ARGV[2]=TTL(ms), ARGV[3]=新セッションID, ARGV[4]=セッションキーのprefix
var createExclusiveScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
local n = 0
if prev then
  n = redis.call('DEL', ARGV[4] .. prev)
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[1], ARGV[3], 'PX', ARGV[2])
return n
`)

// deactivateScript はidentityに紐づく有効セッションを削除する。
// KEYS[1]=identityキー, ARGV[1]=セッションキーのprefix
var deactivateScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if not prev then
  return 0
end
redis.call('DEL', KEYS[1])
return redis.call('DEL', ARGV[1] .. prev)
`)

// deleteScript はセッションを削除し、identityの指す先が同じならidentityキーも消す。
// KEYS[1]=セッションキー, KEYS[2]=identityキー, ARGV[1]=セッションID
var deleteScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
return redis.call('DEL', KEYS[1])
`)

// redisSession はRedisに保存するセッションの表現。
type redisSession struct {
	ID         string    `json:"session_id"`
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 無効化はキーの削除で表現し、期限切れはキーのTTLに任せる。
type RedisSessionRepo struct {
	client *redis.Client
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

func sessionKey(id string) string {
	return redisKeyPrefix + "session:" + id
}

func identityKey(identityID string) string {
	return redisKeyPrefix + "identity:" + identityID
}

// CreateExclusive は既存の有効セッションを削除してからセッションを登録する。
func (r *RedisSessionRepo) CreateExclusive(ctx context.Context, session *model.Session) (int64, error) {
	ttl := session.ExpiresAt.Sub(session.CreatedAt)
	if ttl <= 0 {
		return 0, fmt.Errorf("failed to create session: expires_at must be after created_at")
	}

	data, err := json.Marshal(redisSession{
		ID:         session.ID,
		IdentityID: session.IdentityID,
		Email:      session.Email,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal session: %w", err)
	}

	n, err := createExclusiveScript.Run(ctx, r.client,
		[]string{identityKey(session.IdentityID), sessionKey(session.ID)},
		string(data), ttl.Milliseconds(), session.ID, redisKeyPrefix+"session:",
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to create session: %w", err)
	}

	session.Active = true
	return n, nil
}

// FindActiveByID は指定時刻において有効なセッションを取得する。
func (r *RedisSessionRepo) FindActiveByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	val, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(val, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	session := &model.Session{
		ID:         rs.ID,
		IdentityID: rs.IdentityID,
		Email:      rs.Email,
		CreatedAt:  rs.CreatedAt,
		ExpiresAt:  rs.ExpiresAt,
		Active:     true,
	}
	// キーのTTLとは別に、注入された時刻で有効期限を確認する
	if !session.IsValidAt(now) {
		return nil, nil
	}
	return session, nil
}

// DeactivateByIdentityID は指定identityの有効セッションを削除する。
func (r *RedisSessionRepo) DeactivateByIdentityID(ctx context.Context, identityID string) (int64, error) {
	n, err := deactivateScript.Run(ctx, r.client,
		[]string{identityKey(identityID)},
		redisKeyPrefix+"session:",
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	return n, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	val, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(val, &rs); err != nil {
		return false, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	n, err := deleteScript.Run(ctx, r.client,
		[]string{sessionKey(id), identityKey(rs.IdentityID)},
		id,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredOrInactive は何もしない。期限切れのキーはRedisのTTLで消える。
func (r *RedisSessionRepo) DeleteExpiredOrInactive(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
