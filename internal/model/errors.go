// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// パイプラインで判定に使うエラー。
var (
	// ErrSourceNotFound はフェッチ対象のソースが存在しないことを表す。
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceInactive はフェッチ対象のソースが無効化されていることを表す。
	ErrSourceInactive = errors.New("source is inactive")
	// ErrDuplicateArticle は正規化URLが既存記事と衝突したことを表す。
	ErrDuplicateArticle = errors.New("duplicate article")
	// ErrContentTooShort は本文が公開に必要な長さに満たないことを表す。
	ErrContentTooShort = errors.New("content too short")
	// ErrImageMissing はアイキャッチ画像がないことを表す。
	ErrImageMissing = errors.New("featured image missing")
	// ErrArticleNotFound は記事が存在しないことを表す。
	ErrArticleNotFound = errors.New("article not found")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, queue, system
	Action   string // オペレーター向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeUnknownQueue     = "UNKNOWN_QUEUE"
	ErrCodeJobNotFound      = "JOB_NOT_FOUND"
	ErrCodeInvalidJobState  = "INVALID_JOB_STATE"
	ErrCodeJobNotRetryable  = "JOB_NOT_RETRYABLE"
	ErrCodeSourceNotFound   = "SOURCE_NOT_FOUND"
	ErrCodeArticleNotFound  = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
)

// NewUnauthorizedError は管理APIの認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "管理APIへのアクセスが拒否されました。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しい管理トークンを指定してください。",
	}
}

// NewUnknownQueueError は存在しないキュー名が指定された場合のエラーを生成する。
func NewUnknownQueueError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownQueue,
		Message:  fmt.Sprintf("指定されたキューは存在しません: %s", name),
		Category: "validation",
		Action:   "キュー名には fetch、process、publish のいずれかを指定してください。",
	}
}

// NewJobNotFoundError はジョブ未検出エラーを生成する。
func NewJobNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotFound,
		Message:  fmt.Sprintf("指定されたジョブが見つかりません: %s", jobID),
		Category: "queue",
		Action:   "ジョブIDを確認してください。保持期間を過ぎたジョブは削除されています。",
	}
}

// NewInvalidJobStateError は無効なジョブ状態が指定された場合のエラーを生成する。
func NewInvalidJobStateError(state string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidJobState,
		Message:  fmt.Sprintf("無効なジョブ状態です: %s", state),
		Category: "validation",
		Action:   "状態には waiting、active、completed、failed、delayed のいずれかを指定してください。",
	}
}

// NewJobNotRetryableError は失敗状態でないジョブを再実行しようとした場合のエラーを生成する。
func NewJobNotRetryableError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotRetryable,
		Message:  fmt.Sprintf("ジョブは失敗状態ではありません: %s", jobID),
		Category: "queue",
		Action:   "再実行は失敗したジョブに対してのみ実行できます。",
	}
}

// NewSourceNotFoundError はソース未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", sourceID),
		Category: "validation",
		Action:   "ソースIDを確認してください。",
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "validation",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidParameterError は不正なクエリパラメータのエラーを生成する。
func NewInvalidParameterError(name, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("パラメータ %s の値が不正です: %s", name, value),
		Category: "validation",
		Action:   "パラメータの形式を確認してください。",
	}
}
