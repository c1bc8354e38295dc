// Package store は運動記録の正本を管理するActivityStoreを提供する。
//
// ローカルモード（KVStore）とリアルタイムモード（TreeStore）の2実装があり、
// どちらも変更のたびに全件リストを購読者へ配信する。
package store

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/photo"
	"github.com/hitoshi/fitbattle/internal/security"
)

// State はストアの初期化状態を表す。
type State int

const (
	// StateUninitialized はLoad/Start前の状態。
	StateUninitialized State = iota
	// StateLoading は初回スナップショットの確定待ち。Listは空を返し、購読者への配信は保留される。
	StateLoading
	// StateReady は初回スナップショットが確定した状態。
	StateReady
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ActivityStore は運動記録の追加・削除・一覧・購読を提供する。
type ActivityStore interface {
	// Add は入力を検証して記録を追加し、IDと日時が付与された記録を返す。
	// 検証に失敗した場合は何も書き込まずにValidationErrorを返す。
	Add(ctx context.Context, in model.ActivityInput) (model.Activity, error)

	// Remove は指定IDの記録を削除する。存在しない場合は何もしない。
	Remove(ctx context.Context, id string) error

	// List は現在の記録一覧を返す。Loading中は空スライスを返す。
	List(ctx context.Context) ([]model.Activity, error)

	// Subscribe はfnに現在の一覧を配信し、以降は変更のたびに配信する。
	// 連続した変更は最新の一覧1回にまとめられることがある。
	Subscribe(fn func([]model.Activity)) (unsubscribe func())

	// State は初期化状態を返す。
	State() State
}

// MetricsRecorder はストア操作のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordActivityAdded(backend string)
	RecordActivityRemoved(backend string)
	RecordStoreEvent(backend string)
}

// Options はストア共通の設定。ゼロ値の項目には既定値が使われる。
type Options struct {
	PhotoMaxBytes int64
	Sanitizer     security.TextSanitizer
	Clock         func() time.Time
	Logger        *slog.Logger
	Metrics       MetricsRecorder
}

func (o Options) withDefaults() Options {
	if o.PhotoMaxBytes <= 0 {
		o.PhotoMaxBytes = photo.DefaultMaxBytes
	}
	if o.Sanitizer == nil {
		o.Sanitizer = security.NewTextSanitizer()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	return o
}

type noopMetrics struct{}

func (noopMetrics) RecordActivityAdded(string)   {}
func (noopMetrics) RecordActivityRemoved(string) {}
func (noopMetrics) RecordStoreEvent(string)      {}

// validateInput は入力を検証し、IDと日時を除く記録を組み立てる。
func validateInput(in model.ActivityInput, opts Options) (model.Activity, error) {
	user, err := cleanName("user", in.User, opts.Sanitizer)
	if err != nil {
		return model.Activity{}, err
	}
	typeName, err := cleanName("type", in.Type, opts.Sanitizer)
	if err != nil {
		return model.Activity{}, err
	}

	raw := strings.TrimSpace(in.Distance)
	if raw == "" {
		return model.Activity{}, model.NewValidationError("distance", "必須です")
	}
	distance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return model.Activity{}, model.NewValidationError("distance", "数値ではありません")
	}
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance < 0 {
		return model.Activity{}, model.NewValidationError("distance", "0以上の有限な数値を指定してください")
	}

	if err := photo.Validate(in.Photo, opts.PhotoMaxBytes); err != nil {
		return model.Activity{}, err
	}

	return model.Activity{
		User:       user,
		Type:       typeName,
		Distance:   distance,
		WithFriend: in.WithFriend,
		Photo:      in.Photo,
	}, nil
}

// cleanName は名前を前後の空白を除いて返す。
// 空の場合と、HTMLとして解釈される文字列を含む場合は拒否する。
func cleanName(field, raw string, sanitizer security.TextSanitizer) (string, error) {
	clean, altered := security.Clean(sanitizer, raw)
	if altered {
		return "", model.NewValidationError(field, "HTMLタグは使用できません")
	}
	if clean == "" {
		return "", model.NewValidationError(field, "必須です")
	}
	return clean, nil
}

// cloneActivities は購読者に渡すための独立したコピーを返す。
func cloneActivities(src []model.Activity) []model.Activity {
	out := make([]model.Activity, len(src))
	copy(out, src)
	return out
}
