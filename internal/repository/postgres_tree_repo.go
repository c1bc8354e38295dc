package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TreeChangeChannel はtree_nodesの変更を通知するLISTEN/NOTIFYチャネル名。
// マイグレーションのトリガー定義と一致させること。
const TreeChangeChannel = "tree_changes"

// initialLoadTimeout はWatch開始時の初回読み込みのタイムアウト。
const initialLoadTimeout = 10 * time.Second

// ChangeFeed は変更のあったパスを通知するイベント源。
// 空文字列は全パスの再読み込み要求（再接続など）を表す。
type ChangeFeed interface {
	Events() <-chan string
}

// PostgresTreeRepo はPostgreSQLを使用したTreeStore。
// 書き込みはtree_nodesテーブルへ行い、トリガーが発行するNOTIFYを
// Listenで受け取ってウォッチャーへ全体スナップショットを配信する。
//
// 同じパスの読み直しは直列に行う。読み取りと配信の間に別の読み直しが
// 割り込むと、古いスナップショットが新しいものを上書きしてしまうため。
type PostgresTreeRepo struct {
	db     *sql.DB
	hub    *watchHub
	logger *slog.Logger

	// read はRefreshが使う読み取り関数（既定はSnapshot）
	read func(ctx context.Context, path string) (TreeSnapshot, error)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPostgresTreeRepo はPostgresTreeRepoを生成する。
func NewPostgresTreeRepo(db *sql.DB, logger *slog.Logger) *PostgresTreeRepo {
	if logger == nil {
		logger = slog.Default()
	}
	r := &PostgresTreeRepo{
		db:     db,
		hub:    newWatchHub(),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
	r.read = r.Snapshot
	return r
}

// Set はパスの値を置き換える。既存の子ノードは同一トランザクションで削除する。
func (r *PostgresTreeRepo) Set(ctx context.Context, path string, value []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tree_nodes WHERE path = $1`, path); err != nil {
		return fmt.Errorf("ノードの削除に失敗しました (path=%s): %w", path, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tree_nodes (path, key, value) VALUES ($1, '', $2)`,
		path, string(value),
	); err != nil {
		return fmt.Errorf("ノードの保存に失敗しました (path=%s): %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Push はUUIDv7のキーで子ノードを追加する。
func (r *PostgresTreeRepo) Push(ctx context.Context, path string, value []byte) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("キーの採番に失敗しました: %w", err)
	}
	key := id.String()

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO tree_nodes (path, key, value) VALUES ($1, $2, $3)`,
		path, key, string(value),
	); err != nil {
		return "", fmt.Errorf("子ノードの追加に失敗しました (path=%s): %w", path, err)
	}
	return key, nil
}

// Remove は子ノードを削除する。存在しない場合は何もしない。
func (r *PostgresTreeRepo) Remove(ctx context.Context, path, key string) error {
	if key == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM tree_nodes WHERE path = $1 AND key = $2`,
		path, key,
	); err != nil {
		return fmt.Errorf("子ノードの削除に失敗しました (path=%s, key=%s): %w", path, key, err)
	}
	return nil
}

// Snapshot はパスの値と子ノードをキー昇順で読み取る。
func (r *PostgresTreeRepo) Snapshot(ctx context.Context, path string) (TreeSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM tree_nodes WHERE path = $1 ORDER BY key ASC`,
		path,
	)
	if err != nil {
		return TreeSnapshot{}, fmt.Errorf("ノードの取得に失敗しました (path=%s): %w", path, err)
	}
	defer rows.Close()

	snap := TreeSnapshot{Path: path, Children: []TreeChild{}}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return TreeSnapshot{}, fmt.Errorf("ノードのスキャンに失敗しました: %w", err)
		}
		if key == "" {
			snap.Value = value
			continue
		}
		snap.Children = append(snap.Children, TreeChild{Key: key, Value: value})
	}
	if err := rows.Err(); err != nil {
		return TreeSnapshot{}, fmt.Errorf("ノードの読み取りに失敗しました: %w", err)
	}
	return snap, nil
}

// Watch はパスの変更を購読する。
// 初回の読み込みはバックグラウンドで行い、成功した時点で最初の通知が届く。
// 読み込みに失敗した場合はNOTIFYまたはRefreshAllによる再読み込みまで通知されない。
func (r *PostgresTreeRepo) Watch(path string, fn func(TreeSnapshot)) func() {
	cancel, created := r.hub.subscribe(path, fn)
	if created || !r.hub.hasSnapshot(path) {
		go func() {
			ctx, done := context.WithTimeout(context.Background(), initialLoadTimeout)
			defer done()
			if err := r.Refresh(ctx, path); err != nil {
				r.logger.Warn("初回スナップショットの読み込みに失敗しました",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	return cancel
}

// Refresh はパスを読み直してウォッチャーへ配信する。
// 同じパスへの呼び出しは読み取りから配信までを1単位として直列化される。
func (r *PostgresTreeRepo) Refresh(ctx context.Context, path string) error {
	mu := r.pathLock(path)
	mu.Lock()
	defer mu.Unlock()

	snap, err := r.read(ctx, path)
	if err != nil {
		return err
	}
	r.hub.publish(snap)
	return nil
}

func (r *PostgresTreeRepo) pathLock(path string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	mu, ok := r.locks[path]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[path] = mu
	}
	return mu
}

// RefreshAll はウォッチ中の全パスを読み直す。
// 最初に発生したエラーを返すが、残りのパスの処理は継続する。
func (r *PostgresTreeRepo) RefreshAll(ctx context.Context) error {
	var firstErr error
	for _, path := range r.hub.watched() {
		if err := r.Refresh(ctx, path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Listen はChangeFeedのイベントを受け取り、該当パスを再読み込みする。
// ctxがキャンセルされるか、イベントチャネルが閉じられるまでブロックする。
func (r *PostgresTreeRepo) Listen(ctx context.Context, feed ChangeFeed) {
	events := feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-events:
			if !ok {
				return
			}
			var err error
			if path == "" {
				r.logger.Info("変更通知の再接続を検知したため全パスを再読み込みします")
				err = r.RefreshAll(ctx)
			} else {
				err = r.Refresh(ctx, path)
			}
			if err != nil {
				r.logger.Error("変更通知後の再読み込みに失敗しました",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Ping は接続を確認する。
func (r *PostgresTreeRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close は全ウォッチャーを停止する。DB接続は呼び出し側で閉じること。
func (r *PostgresTreeRepo) Close() error {
	r.hub.close()
	return nil
}
