package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/queue"
)

// mockPublisher はArticlePublisherのテスト用モック。
type mockPublisher struct {
	markFunc func(ctx context.Context, id string, at time.Time) (bool, error)
	calls    []string
}

func (m *mockPublisher) MarkPublished(ctx context.Context, id string, at time.Time) (bool, error) {
	m.calls = append(m.calls, id)
	return m.markFunc(ctx, id, at)
}

func newStageForTest(pub *mockPublisher) (*Stage, *bytes.Buffer) {
	var buf bytes.Buffer
	s := NewStage(pub, slog.New(slog.NewJSONHandler(&buf, nil)))
	s.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return s, &buf
}

func job(t *testing.T, articleID string) *model.Job {
	t.Helper()
	payload, err := json.Marshal(model.PublishPayload{ArticleID: articleID})
	if err != nil {
		t.Fatal(err)
	}
	return &model.Job{ID: "job-1", Queue: queue.QueuePublish, Name: queue.JobPublishArticle, Payload: payload}
}

func TestStage_Handle_MarksPublished(t *testing.T) {
	var gotAt time.Time
	pub := &mockPublisher{markFunc: func(ctx context.Context, id string, at time.Time) (bool, error) {
		gotAt = at
		return true, nil
	}}
	s, logs := newStageForTest(pub)

	if err := s.Handle(context.Background(), job(t, "article-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0] != "article-1" {
		t.Errorf("calls = %v", pub.calls)
	}
	if !gotAt.Equal(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("publishedAt = %v", gotAt)
	}
	if !strings.Contains(logs.String(), "記事を公開状態にしました") {
		t.Error("公開ログが出力されていない")
	}
}

func TestStage_Handle_ArticleNotFound(t *testing.T) {
	pub := &mockPublisher{markFunc: func(ctx context.Context, id string, at time.Time) (bool, error) {
		return false, nil
	}}
	s, _ := newStageForTest(pub)

	err := s.Handle(context.Background(), job(t, "missing"))
	if !errors.Is(err, model.ErrArticleNotFound) {
		t.Fatalf("err = %v, want ErrArticleNotFound", err)
	}
	if !queue.IsPermanent(err) {
		t.Error("存在しない記事はリトライ不要の失敗とすべき")
	}
}

func TestStage_Handle_EmptyArticleID(t *testing.T) {
	pub := &mockPublisher{}
	s, _ := newStageForTest(pub)

	err := s.Handle(context.Background(), job(t, ""))
	if !queue.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
	if len(pub.calls) != 0 {
		t.Error("空のIDでリポジトリが呼ばれた")
	}
}

func TestStage_Handle_RepositoryError(t *testing.T) {
	pub := &mockPublisher{markFunc: func(ctx context.Context, id string, at time.Time) (bool, error) {
		return false, errors.New("connection refused")
	}}
	s, _ := newStageForTest(pub)

	err := s.Handle(context.Background(), job(t, "article-1"))
	if err == nil || queue.IsPermanent(err) {
		t.Errorf("err = %v, want retryable error", err)
	}
}

func TestStage_Handle_InvalidPayload(t *testing.T) {
	s, _ := newStageForTest(&mockPublisher{})

	err := s.Handle(context.Background(), &model.Job{Payload: json.RawMessage(`{"article_id":`)})
	if !queue.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
}
