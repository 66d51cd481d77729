package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// maxInputRunes はプロンプトに含める本文の最大文字数。
const maxInputRunes = 6000

// Config はOpenAI互換APIの接続設定。
type Config struct {
	APIKey  string
	Model   string
	BaseURL string        // 任意。OpenAI互換サーバーを使う場合に指定
	Timeout time.Duration // 1呼び出しあたりのタイムアウト
	Rate    rate.Limit    // 1秒あたりの最大呼び出し数
}

// OpenAIClient はChat Completions APIで要約と分類を行う。
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ Summarizer = (*OpenAIClient)(nil)
	_ Classifier = (*OpenAIClient)(nil)
)

// NewOpenAI はOpenAIClientの新しいインスタンスを生成する。
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("OpenAIのモデル名が指定されていません")
	}

	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := cfg.Rate
	if limit <= 0 {
		limit = rate.Inf
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cc),
		model:   cfg.Model,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// Summarize は本文をminLen〜maxLen文字のプレーンテキストに要約する。
func (o *OpenAIClient) Summarize(ctx context.Context, text string, minLen, maxLen int) (string, error) {
	sys := fmt.Sprintf(`You are a news editor. Summarize the article in plain text between %d and %d characters.
Keep facts, names and numbers accurate. Do not add opinions, headings, lists or links.`, minLen, maxLen)

	out, err := o.create(ctx, sys, truncateRunes(text, maxInputRunes), 0.3, false)
	if err != nil {
		o.logger.Warn("AI要約に失敗しました", slog.String("error", err.Error()))
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Classify は本文をラベル集合でゼロショット分類する。
// 未知のラベルは除外し、スコアの降順で返す。
func (o *OpenAIClient) Classify(ctx context.Context, text string, labels []string) ([]LabelScore, error) {
	sys := fmt.Sprintf(`You are a news classifier. Score how well the article fits each label from 0 to 1.
Labels: %s
Respond with a JSON object only: {"scores":[{"label":"<label>","score":<number>}]}`, strings.Join(labels, ", "))

	out, err := o.create(ctx, sys, truncateRunes(text, maxInputRunes), 0, true)
	if err != nil {
		o.logger.Warn("AI分類に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	return parseLabelScores(out, labels)
}

// parseLabelScores はモデルの応答JSONを既知ラベルのスコア一覧に変換する。
func parseLabelScores(raw string, labels []string) ([]LabelScore, error) {
	var resp struct {
		Scores []LabelScore `json:"scores"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return nil, fmt.Errorf("分類結果のパースに失敗: %w", err)
	}

	known := make(map[string]bool, len(labels))
	for _, l := range labels {
		known[strings.ToLower(l)] = true
	}

	scores := make([]LabelScore, 0, len(resp.Scores))
	for _, s := range resp.Scores {
		label := strings.ToLower(strings.TrimSpace(s.Label))
		if !known[label] {
			continue
		}
		scores = append(scores, LabelScore{Label: label, Score: s.Score})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores, nil
}

func (o *OpenAIClient) create(ctx context.Context, system, user string, temperature float32, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レート制限の待機に失敗: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("AIの応答が空です")
	}
	return resp.Choices[0].Message.Content, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
