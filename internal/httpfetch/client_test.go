package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockSSRFGuard はSSRFGuardServiceのテスト用モック。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       FetchResult
	}{
		{"200 OK", 200, FetchResultOK},
		{"203 Non-Authoritative", 203, FetchResultOK},
		{"304 Not Modified", 304, FetchResultNotModified},
		{"404 Not Found", 404, FetchResultStop},
		{"410 Gone", 410, FetchResultStop},
		{"401 Unauthorized", 401, FetchResultStop},
		{"403 Forbidden", 403, FetchResultStop},
		{"429 Too Many Requests", 429, FetchResultBackoff},
		{"500 Internal Server Error", 500, FetchResultBackoff},
		{"503 Service Unavailable", 503, FetchResultBackoff},
		{"400 Bad Request", 400, FetchResultUnknown},
		{"301 Moved Permanently", 301, FetchResultUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHTTPStatus(tt.statusCode); got != tt.want {
				t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestClient_Get_Success(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer server.Close()

	c := NewClient(&mockSSRFGuard{}, 5*time.Second, 1024, "Newsdesk/1.0")
	resp, err := c.Get(context.Background(), server.URL+"/page", "text/html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "<html>ok</html>" {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.FinalURL != server.URL+"/page" {
		t.Errorf("FinalURL = %q", resp.FinalURL)
	}
	if !strings.HasPrefix(resp.ContentType, "text/html") {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	if gotUA != "Newsdesk/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "text/html" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestClient_Get_LimitsBodySize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer server.Close()

	c := NewClient(&mockSSRFGuard{}, 5*time.Second, 10, "test")
	resp, err := c.Get(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Body) != 10 {
		t.Errorf("本文は最大サイズで切り詰められるべき: len=%d", len(resp.Body))
	}
}

func TestClient_Get_StatusError(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusNotFound, true},
		{http.StatusForbidden, true},
		{http.StatusServiceUnavailable, false},
		{http.StatusTooManyRequests, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := NewClient(&mockSSRFGuard{}, 5*time.Second, 1024, "test")
			_, err := c.Get(context.Background(), server.URL, "")

			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if statusErr.Permanent() != tt.permanent {
				t.Errorf("Permanent() = %v, want %v", statusErr.Permanent(), tt.permanent)
			}
		})
	}
}

func TestClient_Get_SSRFRejected(t *testing.T) {
	c := NewClient(&mockSSRFGuard{validateErr: errors.New("blocked IP address")}, time.Second, 1024, "test")
	_, err := c.Get(context.Background(), "http://169.254.169.254/", "")
	if err == nil || !strings.Contains(err.Error(), "SSRF検証に失敗") {
		t.Errorf("SSRF検証エラーを返すべき: %v", err)
	}
}

func TestClient_Get_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	c := NewClient(&mockSSRFGuard{}, 100*time.Millisecond, 1024, "test")
	start := time.Now()
	if _, err := c.Get(context.Background(), server.URL, ""); err == nil {
		t.Fatal("タイムアウトはエラーになるべき")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("タイムアウトが効いていない: %v", elapsed)
	}
}
