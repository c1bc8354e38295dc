// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, backend, config, activity
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryBackend    = "backend"
	CategoryConfig     = "config"
	CategoryActivity   = "activity"
)

// 定義済みエラーコード
const (
	ErrCodeValidation             = "VALIDATION_FAILED"
	ErrCodeBackendUnavailable     = "BACKEND_UNAVAILABLE"
	ErrCodeMalformedConfiguration = "MALFORMED_CONFIGURATION"
	ErrCodeActivityNotFound       = "ACTIVITY_NOT_FOUND"
	ErrCodeShareUnavailable       = "SHARE_UNAVAILABLE"
)

// NewValidationError は入力値の検証エラーを生成する。
// fieldは問題のあった入力項目名、reasonは理由。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です (%s): %s", field, reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認して、もう一度送信してください。",
	}
}

// NewBackendUnavailableError はストレージバックエンドが未設定または到達不能な場合のエラーを生成する。
func NewBackendUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  fmt.Sprintf("ストレージに接続できません: %s", reason),
		Category: CategoryBackend,
		Action:   "ストレージの接続設定を確認してください。設定が完了するまで記録は追加できません。",
	}
}

// NewMalformedConfigurationError は設定値や保存済みカタログの解析に失敗した場合のエラーを生成する。
func NewMalformedConfigurationError(source, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedConfiguration,
		Message:  fmt.Sprintf("設定の形式が不正です (%s): %s", source, reason),
		Category: CategoryConfig,
		Action:   "設定値がJSONまたは規定の形式になっているか確認してください。",
	}
}

// NewActivityNotFoundError は運動記録が見つからない場合のエラーを生成する。
func NewActivityNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeActivityNotFound,
		Message:  fmt.Sprintf("指定された運動記録が見つかりません: %s", id),
		Category: CategoryActivity,
		Action:   "記録IDを確認してください。",
	}
}

// NewShareUnavailableError は共有機能が注入されていない場合のエラーを生成する。
func NewShareUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeShareUnavailable,
		Message:  "共有機能が設定されていません。",
		Category: CategoryBackend,
		Action:   "共有連携の設定を行ってから再度お試しください。",
	}
}

// IsValidation はerrがValidationErrorかどうかを返す。
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsBackendUnavailable はerrがBackendUnavailableErrorかどうかを返す。
func IsBackendUnavailable(err error) bool {
	return hasCode(err, ErrCodeBackendUnavailable)
}

// IsMalformedConfiguration はerrがMalformedConfigurationErrorかどうかを返す。
func IsMalformedConfiguration(err error) bool {
	return hasCode(err, ErrCodeMalformedConfiguration)
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
