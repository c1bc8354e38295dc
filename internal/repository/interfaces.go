// Package repository はデータ永続化のインターフェースを定義する。
//
// ローカルモードはキー単位でJSONを読み書きするKVStore、
// リアルタイムモードはパス単位で子ノードを管理し変更を通知するTreeStoreを使用する。
package repository

import "context"

// KVStore はローカル永続化用のキーバリューストア。
// 値は呼び出し側でJSONエンコードされたバイト列として扱う。
type KVStore interface {
	// Get はキーの値を取得する。存在しない場合はfalseを返す。
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set はキーの値を上書き保存する。
	Set(ctx context.Context, key string, value []byte) error
}

// TreeStore は複数クライアントで共有するリアルタイムツリーストア。
// 変更は書き込んだクライアントを含む全ウォッチャーへ通知される。
type TreeStore interface {
	// Set はパスの値を置き換える。既存の子ノードはすべて削除される。
	Set(ctx context.Context, path string, value []byte) error

	// Push はパス配下に新しい子ノードを追加し、採番したキーを返す。
	// キーは追加順に昇順となる。
	Push(ctx context.Context, path string, value []byte) (string, error)

	// Remove はパス配下の子ノードを削除する。存在しない場合は何もしない。
	Remove(ctx context.Context, path, key string) error

	// Snapshot はパスの現在の内容を読み取る。
	Snapshot(ctx context.Context, path string) (TreeSnapshot, error)

	// Watch はパスの変更を購読する。現在の内容が確定した時点で最初の通知が行われ、
	// 以降は変更のたびに全体のスナップショットが通知される。
	Watch(path string, fn func(TreeSnapshot)) (cancel func())
}

// TreeSnapshot はあるパスのある時点の内容。
type TreeSnapshot struct {
	Path     string
	Value    []byte      // Setで書き込まれた値。未設定の場合はnil
	Children []TreeChild // キー昇順
}

// Exists はパスに値または子ノードが存在するかを返す。
func (s TreeSnapshot) Exists() bool {
	return s.Value != nil || len(s.Children) > 0
}

// TreeChild はPushで追加された子ノード。
type TreeChild struct {
	Key   string
	Value []byte
}
