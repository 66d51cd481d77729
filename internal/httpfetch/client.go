// Package httpfetch はフィード・ページ取得に共通するSSRF防止付きのHTTP GETを提供する。
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchResult はHTTPステータスコードに基づく取得結果の分類。
type FetchResult int

const (
	// FetchResultOK は取得成功（2xx）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop は再試行しても成功しないステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff は時間をおいて再試行すべきステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを取得結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// StatusError は2xx以外の応答を表す。
type StatusError struct {
	URL        string
	StatusCode int
	Result     FetchResult
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// Permanent は再試行しても成功しない応答かを返す。
func (e *StatusError) Permanent() bool {
	return e.Result == FetchResultStop
}

// SSRFValidator は取得先の検証と安全なクライアント生成のインターフェース。
// *security.URLGuardが実装する。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Response は取得したレスポンスの本文とメタ情報。
type Response struct {
	Body        []byte
	FinalURL    string // リダイレクト後のURL
	ContentType string
	StatusCode  int
}

// Client はタイムアウトとサイズ上限付きでHTTP GETを行う。
type Client struct {
	ssrfGuard   SSRFValidator
	timeout     time.Duration
	maxBodySize int64
	userAgent   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(ssrfGuard SSRFValidator, timeout time.Duration, maxBodySize int64, userAgent string) *Client {
	return &Client{
		ssrfGuard:   ssrfGuard,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		userAgent:   userAgent,
	}
}

// Get はURLを検証してからGETし、本文を最大サイズまで読み込む。
// 2xx以外の応答は*StatusErrorを返す。
func (c *Client) Get(ctx context.Context, rawURL, accept string) (*Response, error) {
	if err := c.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	// クライアントのタイムアウトとは別に、呼び出し単位でも期限を設ける
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	client := c.ssrfGuard.NewSafeClient(c.timeout, c.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if result := ClassifyHTTPStatus(resp.StatusCode); result != FetchResultOK {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Result: result}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		Body:        body,
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}
