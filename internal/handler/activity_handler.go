package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitbattle/internal/gpximport"
	"github.com/hitoshi/fitbattle/internal/middleware"
	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/photo"
	"github.com/hitoshi/fitbattle/internal/store"
)

const (
	// maxGPXBytes はアップロードされるGPXファイルの上限サイズ。
	maxGPXBytes = 5 << 20
	// multipartOverhead は写真・GPX以外のフォーム項目に許容する余裕分。
	multipartOverhead = 1 << 20
)

// ActivityStore は運動記録ハンドラーが必要とするストアのインターフェース。
type ActivityStore interface {
	Add(ctx context.Context, in model.ActivityInput) (model.Activity, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Activity, error)
	State() store.State
}

// ActivityHandler は運動記録のHTTPハンドラー。
type ActivityHandler struct {
	store         ActivityStore
	photoMaxBytes int64
	logger        *slog.Logger
}

// NewActivityHandler はActivityHandlerを生成する。
func NewActivityHandler(s ActivityStore, photoMaxBytes int64, logger *slog.Logger) *ActivityHandler {
	if photoMaxBytes <= 0 {
		photoMaxBytes = photo.DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityHandler{store: s, photoMaxBytes: photoMaxBytes, logger: logger}
}

// activityRequest はJSONで送られる運動記録の入力。
// distanceは文字列・数値のどちらも受け付ける。
type activityRequest struct {
	User       string          `json:"user"`
	Type       string          `json:"type"`
	Distance   json.RawMessage `json:"distance"`
	WithFriend bool            `json:"withFriend"`
	Photo      string          `json:"photo"`
}

// activityListResponse は運動記録一覧のレスポンス。
type activityListResponse struct {
	State      string           `json:"state"`
	Activities []model.Activity `json:"activities"`
}

// ListActivities はストアの運動記録一覧を返す。
// GET /api/activities
func (h *ActivityHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []model.Activity{}
	}
	writeJSON(w, http.StatusOK, activityListResponse{
		State:      h.store.State().String(),
		Activities: list,
	})
}

// GetActivity は1件の運動記録を返す。
// GET /api/activities/{id}
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	list, err := h.store.List(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	for _, a := range list {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	middleware.WriteError(w, h.logger, model.NewActivityNotFoundError(id))
}

// CreateActivity は運動記録を追加する。
// application/jsonとmultipart/form-dataを受け付ける。
// multipartではphotoファイルをdata URIに変換し、distance未指定でgpxファイルがあれば距離をGPXから求める。
// POST /api/activities
func (h *ActivityHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	var (
		in  model.ActivityInput
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, err = h.parseMultipart(w, r)
	} else {
		in, err = parseActivityJSON(r)
	}
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	activity, err := h.store.Add(r.Context(), in)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, activity)
}

// DeleteActivity は運動記録を削除する。存在しないIDでも204を返す。
// DELETE /api/activities/{id}
func (h *ActivityHandler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseActivityJSON(r *http.Request) (model.ActivityInput, error) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return model.ActivityInput{}, model.NewValidationError("body", "JSONの解析に失敗しました")
	}
	distance, err := rawDistance(req.Distance)
	if err != nil {
		return model.ActivityInput{}, err
	}
	return model.ActivityInput{
		User:       req.User,
		Type:       req.Type,
		Distance:   distance,
		WithFriend: req.WithFriend,
		Photo:      req.Photo,
	}, nil
}

// rawDistance はJSONのdistanceを文字列に変換する。数値の検証はストアが行う。
func rawDistance(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", model.NewValidationError("distance", "文字列の形式が不正です")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", model.NewValidationError("distance", "数値ではありません")
	}
	return n.String(), nil
}

func (h *ActivityHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (model.ActivityInput, error) {
	limit := h.photoMaxBytes + maxGPXBytes + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.ActivityInput{}, model.NewValidationError("body", "リクエストが大きすぎます")
		}
		return model.ActivityInput{}, model.NewValidationError("body", "フォームの解析に失敗しました")
	}

	in := model.ActivityInput{
		User:       r.FormValue("user"),
		Type:       r.FormValue("type"),
		Distance:   r.FormValue("distance"),
		WithFriend: parseBool(r.FormValue("withFriend")),
	}

	if f, _, err := r.FormFile("photo"); err == nil {
		defer f.Close()
		uri, err := photo.Encode(f, h.photoMaxBytes)
		if err != nil {
			return model.ActivityInput{}, err
		}
		in.Photo = uri
	} else if !errors.Is(err, http.ErrMissingFile) {
		return model.ActivityInput{}, model.NewValidationError("photo", "ファイルの読み込みに失敗しました")
	}

	if strings.TrimSpace(in.Distance) == "" {
		if f, _, err := r.FormFile("gpx"); err == nil {
			defer f.Close()
			track, err := readTrack(f)
			if err != nil {
				return model.ActivityInput{}, err
			}
			in.Distance = track.DistanceString()
			h.logger.Info("GPXから距離を取り込みました",
				slog.String("track", track.Name),
				slog.Float64("distance_km", track.DistanceKm),
			)
		}
	}
	return in, nil
}

func readTrack(f multipart.File) (gpximport.Track, error) {
	data, err := io.ReadAll(io.LimitReader(f, maxGPXBytes+1))
	if err != nil {
		return gpximport.Track{}, model.NewValidationError("gpx", "ファイルの読み込みに失敗しました")
	}
	if len(data) > maxGPXBytes {
		return gpximport.Track{}, model.NewValidationError("gpx", "ファイルが大きすぎます")
	}
	return gpximport.Parse(data)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes":
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
