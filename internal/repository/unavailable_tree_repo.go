package repository

import (
	"context"
	"errors"
	"fmt"
)

// ErrTreeUnavailable は接続先のない共有ツリーへの操作で返されるエラー。
var ErrTreeUnavailable = errors.New("共有ツリーに接続できません")

// UnavailableTreeRepo は接続先が設定されていない場合に使うTreeStore。
// 書き込みと読み取りは常に失敗し、Watchは一度も通知しない。
type UnavailableTreeRepo struct {
	reason string
}

// NewUnavailableTreeRepo はreasonを理由として返すUnavailableTreeRepoを生成する。
func NewUnavailableTreeRepo(reason string) *UnavailableTreeRepo {
	return &UnavailableTreeRepo{reason: reason}
}

func (r *UnavailableTreeRepo) err() error {
	return fmt.Errorf("%w: %s", ErrTreeUnavailable, r.reason)
}

func (r *UnavailableTreeRepo) Set(context.Context, string, []byte) error { return r.err() }

func (r *UnavailableTreeRepo) Push(context.Context, string, []byte) (string, error) {
	return "", r.err()
}

func (r *UnavailableTreeRepo) Remove(context.Context, string, string) error { return r.err() }

func (r *UnavailableTreeRepo) Snapshot(context.Context, string) (TreeSnapshot, error) {
	return TreeSnapshot{}, r.err()
}

func (r *UnavailableTreeRepo) Watch(string, func(TreeSnapshot)) func() { return func() {} }

// Ping は常に失敗する。ヘルスチェックはこれを503として報告する。
func (r *UnavailableTreeRepo) Ping(context.Context) error { return r.err() }
