package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/fitbattle/internal/leaderboard"
	"github.com/hitoshi/fitbattle/internal/middleware"
	"github.com/hitoshi/fitbattle/internal/model"
)

// defaultHeartbeat はSSE接続を維持するコメント行の送信間隔。
const defaultHeartbeat = 25 * time.Second

// Leaderboard はランキングのスナップショットを提供するインターフェース。
type Leaderboard interface {
	Snapshot() model.Snapshot
	Subscribe(fn func(model.Snapshot)) (unsubscribe func())
	Summary() model.ShareSummary
	Share(ctx context.Context, sharer leaderboard.Sharer) (leaderboard.ShareMessage, error)
}

// SnapshotHandler はランキング、共有、ロスターのHTTPハンドラー。
type SnapshotHandler struct {
	board     Leaderboard
	sharer    leaderboard.Sharer
	members   []model.Member
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewSnapshotHandler はSnapshotHandlerを生成する。sharerはnilでもよい。
func NewSnapshotHandler(board Leaderboard, sharer leaderboard.Sharer, members []model.Member, logger *slog.Logger) *SnapshotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotHandler{
		board:     board,
		sharer:    sharer,
		members:   append([]model.Member(nil), members...),
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// GetSnapshot は最新のスナップショットを返す。
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.Snapshot())
}

// Stream はスナップショットをServer-Sent Eventsで配信する。
// 接続直後に最新のスナップショットを1件送り、以降は再計算のたびに送る。
// 配信が追いつかない場合は中間のスナップショットを省き最新のみを送る。
// GET /api/snapshot/stream
func (h *SnapshotHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	updates := make(chan model.Snapshot, 1)
	unsubscribe := h.board.Subscribe(func(s model.Snapshot) {
		// 送信側はこのコールバックのみなので、空けた直後の送信はブロックしない
		select {
		case <-updates:
		default:
		}
		updates <- s
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("スナップショットのエンコードに失敗しました", slog.String("error", err.Error()))
				return
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Version, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// GetShare は共有用の要約とメッセージ本文を返す。
// GET /api/share
func (h *SnapshotHandler) GetShare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, leaderboard.NewShareMessage(h.board.Summary()))
}

// PostShare は共有メッセージを外部の共有先へ送る。
// 共有先が設定されていない場合は503を返す。
// POST /api/share
func (h *SnapshotHandler) PostShare(w http.ResponseWriter, r *http.Request) {
	msg, err := h.board.Share(r.Context(), h.sharer)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// ListMembers はロスターを返す。
// GET /api/members
func (h *SnapshotHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.members)
}
