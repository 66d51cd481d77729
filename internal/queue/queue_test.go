package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/newsdesk/internal/model"
)

// testClock はテスト用の手動で進める時計。
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueueForTest(t *testing.T, policy Policy) (*Queue, *testClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := &testClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	q := New(rdb, QueueFetch, policy)
	q.now = clock.now
	return q, clock, mr
}

var fetchPolicy = Policy{
	MaxAttempts: 3,
	Backoff:     model.Backoff{Type: model.BackoffExponential, Delay: 5 * time.Second},
}

func mustCounts(t *testing.T, q *Queue) map[model.JobState]int64 {
	t.Helper()
	counts, err := q.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	return counts
}

func TestNextDelay(t *testing.T) {
	exp := model.Backoff{Type: model.BackoffExponential, Delay: 5 * time.Second}
	fixed := model.Backoff{Type: model.BackoffFixed, Delay: 5 * time.Second}

	tests := []struct {
		name     string
		backoff  model.Backoff
		attempts int
		want     time.Duration
	}{
		{"指数: 1回目の失敗", exp, 1, 5 * time.Second},
		{"指数: 2回目の失敗", exp, 2, 10 * time.Second},
		{"指数: 3回目の失敗", exp, 3, 20 * time.Second},
		{"指数: 上限1時間", exp, 20, time.Hour},
		{"固定", fixed, 3, 5 * time.Second},
		{"遅延なし", model.Backoff{}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextDelay(tt.backoff, tt.attempts); got != tt.want {
				t.Errorf("NextDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("source not found")
	err := Permanent(base)
	if !IsPermanent(err) {
		t.Error("Permanentでマークしたエラーが判定されない")
	}
	if !errors.Is(err, base) {
		t.Error("元のエラーがUnwrapできない")
	}
	if IsPermanent(base) {
		t.Error("マークしていないエラーがPermanentと判定された")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil)はnilを返すべき")
	}
}

func TestQueue_AddAndClaim(t *testing.T) {
	q, clock, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	added, err := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" || added.MaxAttempts != 3 || added.State != model.JobStateWaiting {
		t.Errorf("投入したジョブが不正: %+v", added)
	}
	if c := mustCounts(t, q); c[model.JobStateWaiting] != 1 {
		t.Errorf("waiting = %d, want 1", c[model.JobStateWaiting])
	}

	job, err := q.claim(ctx, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != added.ID {
		t.Fatalf("取り出したジョブ = %+v, want %s", job, added.ID)
	}
	if job.Attempts != 1 || job.State != model.JobStateActive {
		t.Errorf("attempts=%d state=%s, want 1 active", job.Attempts, job.State)
	}
	if job.ProcessedAt == nil || !job.ProcessedAt.Equal(clock.t) {
		t.Errorf("ProcessedAt = %v, want %v", job.ProcessedAt, clock.t)
	}

	c := mustCounts(t, q)
	if c[model.JobStateWaiting] != 0 || c[model.JobStateActive] != 1 {
		t.Errorf("counts = %v, want active=1 waiting=0", c)
	}

	next, err := q.claim(ctx, time.Minute)
	if err != nil || next != nil {
		t.Errorf("空のキューからの取り出し = (%v, %v), want (nil, nil)", next, err)
	}
}

func TestQueue_AddWithDelay(t *testing.T) {
	q, clock, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	added, err := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src-1"}, WithDelay(time.Minute))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.State != model.JobStateDelayed {
		t.Errorf("state = %s, want delayed", added.State)
	}
	if c := mustCounts(t, q); c[model.JobStateDelayed] != 1 || c[model.JobStateWaiting] != 0 {
		t.Errorf("counts = %v, want delayed=1", c)
	}

	if job, _ := q.claim(ctx, time.Minute); job != nil {
		t.Fatal("遅延中のジョブが取り出された")
	}

	clock.advance(time.Minute)
	got, err := q.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != model.JobStateWaiting {
		t.Errorf("遅延経過後のstate = %s, want waiting", got.State)
	}
	if job, _ := q.claim(ctx, time.Minute); job == nil {
		t.Error("遅延経過後のジョブが取り出されない")
	}
}

func TestQueue_AddWithJobID(t *testing.T) {
	q, _, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	first, err := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src-1"}, WithJobID("fixed"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src-2"}, WithJobID("fixed"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if second.ID != first.ID || string(second.Payload) != string(first.Payload) {
		t.Errorf("同じIDの再投入で既存ジョブが返らない: %s", second.Payload)
	}
	if c := mustCounts(t, q); c[model.JobStateWaiting] != 1 {
		t.Errorf("waiting = %d, want 1", c[model.JobStateWaiting])
	}
}

func TestQueue_FailRetriesWithBackoff(t *testing.T) {
	q, clock, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	added, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src-1"})
	cause := errors.New("connection reset")

	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}
	for i, delay := range wantDelays {
		job, err := q.claim(ctx, time.Minute)
		if err != nil || job == nil {
			t.Fatalf("%d回目の取り出しに失敗: (%v, %v)", i+1, job, err)
		}
		retried, err := q.fail(ctx, job, cause, "")
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if !retried {
			t.Fatalf("%d回目の失敗でリトライされない", i+1)
		}

		got, _ := q.Get(ctx, added.ID)
		if got.State != model.JobStateDelayed {
			t.Errorf("state = %s, want delayed", got.State)
		}
		if want := clock.t.Add(delay); !got.RunAt.Equal(want) {
			t.Errorf("RunAt = %v, want %v", got.RunAt, want)
		}
		if got.Error != "connection reset" {
			t.Errorf("Error = %q", got.Error)
		}

		if job, _ := q.claim(ctx, time.Minute); job != nil {
			t.Fatal("バックオフ中のジョブが取り出された")
		}
		clock.advance(delay)
	}

	job, _ := q.claim(ctx, time.Minute)
	if job == nil || job.Attempts != 3 {
		t.Fatalf("3回目の取り出し = %+v", job)
	}
	retried, err := q.fail(ctx, job, cause, "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if retried {
		t.Error("最大実行回数に達したジョブがリトライされた")
	}

	got, _ := q.Get(ctx, added.ID)
	if got.State != model.JobStateFailed || got.FinishedAt == nil {
		t.Errorf("state = %s finishedAt = %v, want failed", got.State, got.FinishedAt)
	}
	c := mustCounts(t, q)
	if c[model.JobStateFailed] != 1 || c[model.JobStateActive] != 0 || c[model.JobStateDelayed] != 0 {
		t.Errorf("counts = %v", c)
	}
}

func TestQueue_PermanentFailureSkipsRetry(t *testing.T) {
	q, _, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	added, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "missing"})
	job, _ := q.claim(ctx, time.Minute)

	retried, err := q.fail(ctx, job, Permanent(model.ErrSourceNotFound), "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if retried {
		t.Error("Permanentなエラーがリトライされた")
	}
	got, _ := q.Get(ctx, added.ID)
	if got.State != model.JobStateFailed || got.Attempts != 1 {
		t.Errorf("state=%s attempts=%d, want failed/1", got.State, got.Attempts)
	}
}

func TestQueue_CompleteAndList(t *testing.T) {
	q, clock, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		added, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src"})
		ids = append(ids, added.ID)
		clock.advance(time.Second)
	}
	for i := 0; i < 3; i++ {
		job, _ := q.claim(ctx, time.Minute)
		if job.ID != ids[i] {
			t.Fatalf("取り出し順 %d = %s, want %s", i, job.ID, ids[i])
		}
		if err := q.complete(ctx, job); err != nil {
			t.Fatalf("complete: %v", err)
		}
		clock.advance(time.Second)
	}

	jobs, err := q.List(ctx, model.JobStateCompleted, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len = %d, want 3", len(jobs))
	}
	if jobs[0].ID != ids[2] || jobs[2].ID != ids[0] {
		t.Error("completedは新しい順で返すべき")
	}
	if jobs[0].State != model.JobStateCompleted || jobs[0].FinishedAt == nil {
		t.Errorf("完了ジョブ = %+v", jobs[0])
	}

	limited, _ := q.List(ctx, model.JobStateCompleted, 1, 1)
	if len(limited) != 1 || limited[0].ID != ids[1] {
		t.Errorf("offset/limit指定の結果が不正: %v", limited)
	}

	if _, err := q.List(ctx, model.JobState("unknown"), 0, 10); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestQueue_ListWaitingAndDelayed(t *testing.T) {
	q, _, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	now, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "a"})
	later, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "b"}, WithDelay(time.Hour))

	waiting, _ := q.List(ctx, model.JobStateWaiting, 0, 10)
	if len(waiting) != 1 || waiting[0].ID != now.ID {
		t.Errorf("waiting = %v", waiting)
	}
	delayed, _ := q.List(ctx, model.JobStateDelayed, 0, 10)
	if len(delayed) != 1 || delayed[0].ID != later.ID || delayed[0].State != model.JobStateDelayed {
		t.Errorf("delayed = %v", delayed)
	}
}

func TestQueue_Get_NotFound(t *testing.T) {
	q, _, _ := newQueueForTest(t, fetchPolicy)

	job, err := q.Get(context.Background(), "nope")
	if err != nil || job != nil {
		t.Errorf("Get = (%v, %v), want (nil, nil)", job, err)
	}
}

func TestQueue_Retry(t *testing.T) {
	q, clock, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	if _, err := q.Retry(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("存在しないジョブ: err = %v, want ErrJobNotFound", err)
	}

	added, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src"})
	if _, err := q.Retry(ctx, added.ID); !errors.Is(err, ErrJobNotFailed) {
		t.Errorf("待機中のジョブ: err = %v, want ErrJobNotFailed", err)
	}

	job, _ := q.claim(ctx, time.Minute)
	q.fail(ctx, job, Permanent(errors.New("boom")), "stack")
	clock.advance(time.Minute)

	retried, err := q.Retry(ctx, added.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Attempts != 0 || retried.Error != "" || retried.Stack != "" || retried.State != model.JobStateWaiting {
		t.Errorf("再投入したジョブ = %+v", retried)
	}
	c := mustCounts(t, q)
	if c[model.JobStateFailed] != 0 || c[model.JobStateWaiting] != 1 {
		t.Errorf("counts = %v", c)
	}
	if again, _ := q.claim(ctx, time.Minute); again == nil || again.Attempts != 1 {
		t.Errorf("再投入後の取り出し = %+v", again)
	}
}

func TestQueue_Clean(t *testing.T) {
	q, clock, mr := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	old, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "old"})
	job, _ := q.claim(ctx, time.Minute)
	q.complete(ctx, job)

	clock.advance(2 * time.Hour)
	fresh, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "fresh"})
	job, _ = q.claim(ctx, time.Minute)
	q.complete(ctx, job)

	removed, err := q.Clean(ctx, model.JobStateCompleted, time.Hour, 0)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 1 || removed[0] != old.ID {
		t.Errorf("removed = %v, want [%s]", removed, old.ID)
	}
	if mr.Exists(q.jobKey(old.ID)) {
		t.Error("削除したジョブの本体が残っている")
	}
	if got, _ := q.Get(ctx, fresh.ID); got == nil {
		t.Error("猶予期間内のジョブが削除された")
	}

	if _, err := q.Clean(ctx, model.JobStateActive, time.Hour, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("active指定: err = %v, want ErrInvalidState", err)
	}
}

func TestQueue_CleanLimit(t *testing.T) {
	q, clock, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src"})
	}
	clock.advance(time.Hour)

	removed, err := q.Clean(ctx, model.JobStateWaiting, time.Minute, 2)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("len(removed) = %d, want 2", len(removed))
	}
	if c := mustCounts(t, q); c[model.JobStateWaiting] != 1 {
		t.Errorf("waiting = %d, want 1", c[model.JobStateWaiting])
	}
}

func TestQueue_PauseResume(t *testing.T) {
	q, _, _ := newQueueForTest(t, fetchPolicy)
	ctx := context.Background()

	q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src"})
	if err := q.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused, _ := q.IsPaused(ctx); !paused {
		t.Error("IsPaused = false, want true")
	}
	if job, _ := q.claim(ctx, time.Minute); job != nil {
		t.Error("停止中のキューからジョブが取り出された")
	}

	if err := q.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if paused, _ := q.IsPaused(ctx); paused {
		t.Error("IsPaused = true, want false")
	}
	if job, _ := q.claim(ctx, time.Minute); job == nil {
		t.Error("再開後にジョブが取り出されない")
	}
}

func TestQueue_RecoverStalled(t *testing.T) {
	q, clock, _ := newQueueForTest(t, Policy{MaxAttempts: 2})
	ctx := context.Background()

	added, _ := q.Add(ctx, "fetch-source", model.FetchPayload{SourceID: "src"})
	q.claim(ctx, time.Minute)

	if n, _ := q.RecoverStalled(ctx); n != 0 {
		t.Errorf("リース期限内に回収された: %d", n)
	}

	clock.advance(2 * time.Minute)
	n, err := q.RecoverStalled(ctx)
	if err != nil {
		t.Fatalf("RecoverStalled: %v", err)
	}
	if n != 1 {
		t.Errorf("回収数 = %d, want 1", n)
	}
	got, _ := q.Get(ctx, added.ID)
	if got.State != model.JobStateWaiting || got.Attempts != 1 || got.Error == "" {
		t.Errorf("回収したジョブ = %+v", got)
	}

	// 2回目の停滞で上限に達する
	q.claim(ctx, time.Minute)
	clock.advance(2 * time.Minute)
	q.RecoverStalled(ctx)
	got, _ = q.Get(ctx, added.ID)
	if got.State != model.JobStateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
}
