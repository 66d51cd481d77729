package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

const (
	// DefaultResearchEndpoint はInstant Answer APIのエンドポイント。
	DefaultResearchEndpoint = "https://api.duckduckgo.com/"
	// maxResearchItems は各セクションに差し込む最大項目数。
	maxResearchItems = 3
	// maxResearchBodySize はレスポンスボディの最大サイズ。
	maxResearchBodySize = 1 << 20
)

// instantAnswer はInstant Answer APIのレスポンスのうち利用するフィールド。
type instantAnswer struct {
	Heading        string         `json:"Heading"`
	AbstractText   string         `json:"AbstractText"`
	AbstractSource string         `json:"AbstractSource"`
	AbstractURL    string         `json:"AbstractURL"`
	RelatedTopics  []relatedTopic `json:"RelatedTopics"`
	Results        []relatedTopic `json:"Results"`
}

type relatedTopic struct {
	Text     string         `json:"Text"`
	FirstURL string         `json:"FirstURL"`
	Topics   []relatedTopic `json:"Topics"` // カテゴリ見出しの場合のみ
}

// ResearchClient はInstant Answer APIで記事トピックの背景情報を取得する。
type ResearchClient struct {
	httpClient *http.Client
	endpoint   string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ Researcher = (*ResearchClient)(nil)

// NewResearchClient はResearchClientの新しいインスタンスを生成する。
// endpointが空の場合はDefaultResearchEndpointを使う。
func NewResearchClient(httpClient *http.Client, endpoint string, limit rate.Limit, logger *slog.Logger) *ResearchClient {
	if endpoint == "" {
		endpoint = DefaultResearchEndpoint
	}
	if limit <= 0 {
		limit = rate.Inf
	}
	return &ResearchClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Research はクエリについて背景・詳細・関連情報を取得する。
// 該当情報がない場合は空のResearchを返す。
func (c *ResearchClient) Research(ctx context.Context, query string) (*Research, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Research{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機に失敗: %w", err)
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Newsdesk/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("調査APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("query", query),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("調査APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var answer instantAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return toResearch(answer), nil
}

// toResearch はAPIの応答を書き直し用のセクションに振り分ける。
// 概要を背景、関連トピックを詳細、検索結果を関連情報とする。
func toResearch(a instantAnswer) *Research {
	r := &Research{Background: strings.TrimSpace(a.AbstractText)}
	if r.Background != "" && a.AbstractURL != "" {
		r.Sources = append(r.Sources, Reference{Title: sourceTitle(a.AbstractSource, a.Heading), URL: a.AbstractURL})
	}

	for _, t := range flattenTopics(a.RelatedTopics) {
		if len(r.AdditionalDetails) >= maxResearchItems {
			break
		}
		r.AdditionalDetails = append(r.AdditionalDetails, t.Text)
		r.Sources = append(r.Sources, Reference{Title: t.Text, URL: t.FirstURL})
	}

	for _, t := range flattenTopics(a.Results) {
		if len(r.FurtherInformation) >= maxResearchItems {
			break
		}
		r.FurtherInformation = append(r.FurtherInformation, t.Text)
		r.Sources = append(r.Sources, Reference{Title: t.Text, URL: t.FirstURL})
	}
	return r
}

// flattenTopics はカテゴリ見出しを展開し、本文とURLを持つトピックだけを返す。
func flattenTopics(topics []relatedTopic) []relatedTopic {
	var out []relatedTopic
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flattenTopics(t.Topics)...)
			continue
		}
		if strings.TrimSpace(t.Text) != "" && t.FirstURL != "" {
			out = append(out, relatedTopic{Text: strings.TrimSpace(t.Text), FirstURL: t.FirstURL})
		}
	}
	return out
}

func sourceTitle(source, heading string) string {
	if source != "" {
		return source
	}
	return heading
}
