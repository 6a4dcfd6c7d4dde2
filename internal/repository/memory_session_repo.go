package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/chatgate/internal/model"
)

// MemorySessionRepo はプロセス内のmapを使用したセッションリポジトリ。
// 単一インスタンスでの開発・テスト用。再起動でセッションは失われる。
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]model.Session)}
}

// CreateExclusive は既存の有効セッションを無効化してからセッションを作成する。
func (r *MemorySessionRepo) CreateExclusive(_ context.Context, session *model.Session) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	invalidated := r.deactivateLocked(session.IdentityID)

	session.Active = true
	r.sessions[session.ID] = *session
	return invalidated, nil
}

// FindActiveByID は指定時刻において有効なセッションを取得する。
func (r *MemorySessionRepo) FindActiveByID(_ context.Context, id string, now time.Time) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.IsValidAt(now) {
		return nil, nil
	}
	return &s, nil
}

// DeactivateByIdentityID は指定identityの有効セッションをすべて無効化する。
func (r *MemorySessionRepo) DeactivateByIdentityID(_ context.Context, identityID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deactivateLocked(identityID), nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok, nil
}

// DeleteExpiredOrInactive は期限切れまたは無効化済みのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpiredOrInactive(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if !s.IsValidAt(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// deactivateLocked は呼び出し側がmuを保持している前提で無効化を行う。
func (r *MemorySessionRepo) deactivateLocked(identityID string) int64 {
	var n int64
	for id, s := range r.sessions {
		if s.IdentityID == identityID && s.Active {
			s.Active = false
			r.sessions[id] = s
			n++
		}
	}
	return n
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
