// Package gpximport はGPXファイルから運動距離を取り出す。
package gpximport

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/hitoshi/fitbattle/internal/model"
)

// Track はGPXから読み取った運動の概要。
type Track struct {
	Name       string
	DistanceKm float64    // 2D距離。小数第2位で丸める
	StartedAt  *time.Time // GPXに時刻がない場合はnil
}

// DistanceString はActivityInput.Distanceに渡せる形式で距離を返す。
func (t Track) DistanceString() string {
	return strconv.FormatFloat(t.DistanceKm, 'f', -1, 64)
}

// Parse はGPXのバイト列を解析する。
// 解析できない場合やトラックポイントがない場合はValidationErrorを返す。
func Parse(data []byte) (Track, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return Track{}, model.NewValidationError("gpx", fmt.Sprintf("GPXの解析に失敗しました: %v", err))
	}
	if g.GetTrackPointsNo() == 0 {
		return Track{}, model.NewValidationError("gpx", "トラックポイントがありません")
	}

	meters := g.Length2D()
	track := Track{
		Name:       g.Name,
		DistanceKm: math.Round(meters/1000*100) / 100,
		StartedAt:  g.Time,
	}
	if track.Name == "" && len(g.Tracks) > 0 {
		track.Name = g.Tracks[0].Name
	}
	return track, nil
}
