// Package ai は要約・分類・調査を行う外部AIサービスのクライアントを提供する。
// 呼び出し側はインターフェースに依存し、失敗時は自前のフォールバックで処理を継続する。
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable はAIサービスが設定されていないことを表す。
var ErrUnavailable = errors.New("ai service unavailable")

// Summarizer は本文を指定範囲の文字数に要約する。
type Summarizer interface {
	Summarize(ctx context.Context, text string, minLen, maxLen int) (string, error)
}

// LabelScore はゼロショット分類のラベルとスコア。
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier は本文をラベル集合に分類し、スコアの降順で返す。
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) ([]LabelScore, error)
}

// Reference は調査結果の出典。
type Reference struct {
	Title string
	URL   string
}

// Research は記事の書き直しに差し込む外部調査の結果。
type Research struct {
	Background         string
	AdditionalDetails  []string
	FurtherInformation []string
	Sources            []Reference
}

// IsEmpty は差し込む内容がないかを返す。
func (r *Research) IsEmpty() bool {
	return r == nil || (r.Background == "" && len(r.AdditionalDetails) == 0 && len(r.FurtherInformation) == 0)
}

// Researcher はトピックについて外部情報を調べる。
type Researcher interface {
	Research(ctx context.Context, query string) (*Research, error)
}

// Disabled はAPIキー未設定時に使う実装。常にErrUnavailableを返す。
type Disabled struct{}

var (
	_ Summarizer = Disabled{}
	_ Classifier = Disabled{}
	_ Researcher = Disabled{}
)

// Summarize はErrUnavailableを返す。
func (Disabled) Summarize(context.Context, string, int, int) (string, error) {
	return "", ErrUnavailable
}

// Classify はErrUnavailableを返す。
func (Disabled) Classify(context.Context, string, []string) ([]LabelScore, error) {
	return nil, ErrUnavailable
}

// Research はErrUnavailableを返す。
func (Disabled) Research(context.Context, string) (*Research, error) {
	return nil, ErrUnavailable
}
