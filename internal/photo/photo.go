// Package photo は運動記録に添付する写真をdata URIとして扱う。
package photo

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hitoshi/fitbattle/internal/model"
)

// DefaultMaxBytes は写真の既定の上限サイズ（バイト）。
const DefaultMaxBytes = 1_000_000

// Encode はrから写真を読み込み、base64のdata URIに変換する。
// maxBytesを超える場合や画像でない場合はValidationErrorを返す。
func Encode(r io.Reader, maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("写真の読み込みに失敗しました: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", tooLarge(maxBytes)
	}
	if len(data) == 0 {
		return "", model.NewValidationError("photo", "ファイルが空です")
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", model.NewValidationError("photo", "画像ファイルではありません")
	}

	var buf bytes.Buffer
	buf.WriteString("data:")
	buf.WriteString(contentType)
	buf.WriteString(";base64,")
	buf.WriteString(base64.StdEncoding.EncodeToString(data))
	return buf.String(), nil
}

// Validate はdata URI形式の写真がmaxBytes以内かを検証する。
// 空文字列は写真なしとして許容する。
func Validate(dataURI string, maxBytes int64) error {
	if dataURI == "" {
		return nil
	}
	if !strings.HasPrefix(dataURI, "data:") {
		return model.NewValidationError("photo", "data URI形式ではありません")
	}
	comma := strings.IndexByte(dataURI, ',')
	if comma < 0 {
		return model.NewValidationError("photo", "data URI形式ではありません")
	}

	meta, payload := dataURI[len("data:"):comma], dataURI[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		if int64(len(payload)) > maxBytes {
			return tooLarge(maxBytes)
		}
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return model.NewValidationError("photo", "base64の形式が不正です")
	}
	if int64(len(decoded)) > maxBytes {
		return tooLarge(maxBytes)
	}
	return nil
}

func tooLarge(maxBytes int64) error {
	return model.NewValidationError("photo", fmt.Sprintf("サイズが上限(%dバイト)を超えています", maxBytes))
}
