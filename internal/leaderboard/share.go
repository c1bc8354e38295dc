package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/scoring"
)

// ShareTitle は共有メッセージのタイトル。
const ShareTitle = "💪 FITNESS BATTLE"

// ShareMessage は共有先へ渡すメッセージ。
type ShareMessage struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Summary     model.ShareSummary `json:"summary"`
}

// Sharer は外部の共有手段。実装は任意で、設定されない場合もある。
type Sharer interface {
	Share(ctx context.Context, msg ShareMessage) error
}

// Summary は最新のスナップショットから共有用の要約を作る。
func (c *Controller) Summary() model.ShareSummary {
	return SummaryOf(c.Snapshot())
}

// Share は要約をsharerへ渡す。sharerがnilの場合はShareUnavailableエラーを返す。
func (c *Controller) Share(ctx context.Context, sharer Sharer) (ShareMessage, error) {
	if sharer == nil {
		return ShareMessage{}, model.NewShareUnavailableError()
	}
	msg := NewShareMessage(c.Summary())
	if err := sharer.Share(ctx, msg); err != nil {
		c.cfg.Logger.Error("共有に失敗しました", slog.String("error", err.Error()))
		return ShareMessage{}, fmt.Errorf("共有に失敗しました: %w", err)
	}
	return msg, nil
}

// SummaryOf はスナップショットから共有用の要約を作る。
func SummaryOf(snap model.Snapshot) model.ShareSummary {
	summary := model.ShareSummary{TotalActivities: snap.TotalActivities}
	if top, ok := scoring.Top(snap.Rankings); ok {
		summary.TopName = top.Name
		summary.TopScore = top.Score
	}
	return summary
}

// NewShareMessage は要約から共有メッセージを組み立てる。
func NewShareMessage(summary model.ShareSummary) ShareMessage {
	return ShareMessage{
		Title:       ShareTitle,
		Description: FormatShareMessage(summary),
		Summary:     summary,
	}
}

// FormatShareMessage は共有メッセージの本文を返す。
// 1位がいない場合は名前を「없음」、点数を0と表示する。
func FormatShareMessage(summary model.ShareSummary) string {
	name, score := "없음", "0"
	if summary.TopName != "" {
		name = summary.TopName
		score = formatTenths(summary.TopScore)
	}
	return fmt.Sprintf("현재 1등: %s (%spt)\n총 %d개의 운동 기록이 있습니다!", name, score, summary.TotalActivities)
}

// formatTenths はxを小数第1位までの文字列にする。
// 丸めはfloat64が実際に保持する2進数の値に対して行い、ちょうど中間の値は
// 絶対値が大きい側へ丸める（8.25は"8.3"、2進数で8.25未満の1.45は"1.4"）。
func formatTenths(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return strconv.FormatFloat(x, 'f', 1, 64)
	}
	sign := ""
	if x < 0 {
		sign = "-"
		x = -x
	}
	// 128bitあればx*10+0.5は整数部を失わずに表せる
	t := new(big.Float).SetPrec(128).SetFloat64(x)
	t.Mul(t, big.NewFloat(10))
	t.Add(t, big.NewFloat(0.5))
	n, _ := t.Int(nil)
	q, r := new(big.Int).QuoRem(n, big.NewInt(10), new(big.Int))
	return sign + q.String() + "." + r.String()
}
