package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const createKVTableSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteKVRepo はSQLiteファイルを使用したKVStore。
// ローカルモードの永続化先で、プロセス再起動後も内容が保持される。
type SQLiteKVRepo struct {
	db *sql.DB
}

// OpenSQLiteKV はSQLiteファイルを開き、kvテーブルを作成してSQLiteKVRepoを返す。
// ファイルが存在しない場合は新規作成される。
func OpenSQLiteKV(ctx context.Context, path string) (*SQLiteKVRepo, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("SQLiteファイルのオープンに失敗しました: %w", err)
	}
	// SQLiteは単一書き込みのため接続を1本に制限する
	db.SetMaxOpenConns(1)

	repo, err := NewSQLiteKVRepo(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLiteKVRepo は既存の接続からSQLiteKVRepoを生成する。
func NewSQLiteKVRepo(ctx context.Context, db *sql.DB) (*SQLiteKVRepo, error) {
	if _, err := db.ExecContext(ctx, createKVTableSQL); err != nil {
		return nil, fmt.Errorf("kvテーブルの作成に失敗しました: %w", err)
	}
	return &SQLiteKVRepo{db: db}, nil
}

// Get はキーの値を取得する。存在しない場合はfalseを返す。
func (r *SQLiteKVRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvの取得に失敗しました (key=%s): %w", key, err)
	}
	return value, true, nil
}

// Set はキーの値をUPSERTする。
func (r *SQLiteKVRepo) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("kvの保存に失敗しました (key=%s): %w", key, err)
	}
	return nil
}

// Ping は接続を確認する。
func (r *SQLiteKVRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close は接続を閉じる。
func (r *SQLiteKVRepo) Close() error {
	return r.db.Close()
}
