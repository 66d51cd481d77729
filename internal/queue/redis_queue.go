package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/newsdesk/internal/model"
)

const keyPrefix = "newsdesk:queue:"

// maxClaimRetries は取り出しの楽観ロックが競合したときの再試行回数。
const maxClaimRetries = 5

// Queue は1ステージ分のRedisジョブキュー。
type Queue struct {
	rdb    redis.UniversalClient
	name   string
	policy Policy
	now    func() time.Time
}

// New はQueueの新しいインスタンスを生成する。
func New(rdb redis.UniversalClient, name string, policy Policy) *Queue {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Queue{rdb: rdb, name: name, policy: policy, now: time.Now}
}

// Name はキュー名を返す。
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string { return keyPrefix + q.name + ":" + suffix }
func (q *Queue) jobKey(id string) string  { return q.key("job:" + id) }

func (q *Queue) setKey(s model.JobState) string {
	switch s {
	case model.JobStateWaiting, model.JobStateDelayed:
		return q.key("wait")
	default:
		return q.key(string(s))
	}
}

func ms(t time.Time) float64 { return float64(t.UnixMilli()) }

func msString(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Add はジョブを投入する。WithJobIDで指定したIDが既にある場合は既存のジョブを返す。
func (q *Queue) Add(ctx context.Context, name string, payload any, opts ...Option) (*model.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのエンコードに失敗: %w", err)
	}

	now := q.now()
	job := &model.Job{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Name:        name,
		Payload:     raw,
		MaxAttempts: q.policy.MaxAttempts,
		Backoff:     q.policy.Backoff,
		State:       model.JobStateWaiting,
		CreatedAt:   now,
		RunAt:       now,
	}
	for _, opt := range opts {
		opt(job)
	}
	if job.RunAt.After(now) {
		job.State = model.JobStateDelayed
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("ジョブのエンコードに失敗: %w", err)
	}

	created, err := q.rdb.SetNX(ctx, q.jobKey(job.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("ジョブの保存に失敗: %w", err)
	}
	if !created {
		return q.Get(ctx, job.ID)
	}

	if err := q.rdb.ZAdd(ctx, q.key("wait"), redis.Z{Score: ms(job.RunAt), Member: job.ID}).Err(); err != nil {
		return nil, fmt.Errorf("待機キューへの追加に失敗: %w", err)
	}
	return job, nil
}

// claim は実行可能なジョブを1件取り出してactiveへ移し、実行回数を1増やす。
// 停止中またはジョブがない場合は (nil, nil) を返す。
func (q *Queue) claim(ctx context.Context, lease time.Duration) (*model.Job, error) {
	paused, err := q.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	for i := 0; i < maxClaimRetries; i++ {
		var claimed *model.Job
		err := q.rdb.Watch(ctx, func(tx *redis.Tx) error {
			now := q.now()
			ids, err := tx.ZRangeByScore(ctx, q.key("wait"), &redis.ZRangeBy{
				Min: "-inf", Max: msString(now), Offset: 0, Count: 1,
			}).Result()
			if err != nil || len(ids) == 0 {
				return err
			}
			id := ids[0]

			job, err := loadJob(ctx, tx, q.jobKey(id))
			if err != nil {
				return err
			}
			if job == nil {
				// 本体のないIDは取り除く
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.ZRem(ctx, q.key("wait"), id)
					return nil
				})
				return err
			}

			job.Attempts++
			job.State = model.JobStateActive
			job.ProcessedAt = &now
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, q.key("wait"), id)
				pipe.ZAdd(ctx, q.key("active"), redis.Z{Score: ms(now.Add(lease)), Member: id})
				pipe.Set(ctx, q.jobKey(id), data, 0)
				return nil
			})
			if err == nil {
				claimed = job
			}
			return err
		}, q.key("wait"))

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ジョブの取り出しに失敗: %w", err)
		}
		return claimed, nil
	}
	return nil, nil
}

// complete は実行中のジョブを完了にする。
func (q *Queue) complete(ctx context.Context, job *model.Job) error {
	now := q.now()
	job.State = model.JobStateCompleted
	job.FinishedAt = &now
	job.Error = ""
	job.Stack = ""
	return q.moveFromActive(ctx, job, model.JobStateCompleted, ms(now))
}

// fail は実行中のジョブを失敗として扱う。
// Permanentなエラーまたは実行回数が上限に達した場合はfailedへ、それ以外はバックオフ後に再実行する。
// retriedは再実行に回したかを表す。
func (q *Queue) fail(ctx context.Context, job *model.Job, cause error, stack string) (retried bool, err error) {
	now := q.now()
	job.Error = cause.Error()
	job.Stack = stack

	if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		job.State = model.JobStateFailed
		job.FinishedAt = &now
		return false, q.moveFromActive(ctx, job, model.JobStateFailed, ms(now))
	}

	delay := NextDelay(job.Backoff, job.Attempts)
	job.RunAt = now.Add(delay)
	job.State = model.JobStateWaiting
	if delay > 0 {
		job.State = model.JobStateDelayed
	}
	return true, q.moveFromActive(ctx, job, job.State, ms(job.RunAt))
}

func (q *Queue) moveFromActive(ctx context.Context, job *model.Job, to model.JobState, score float64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("ジョブのエンコードに失敗: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key("active"), job.ID)
		pipe.ZAdd(ctx, q.setKey(to), redis.Z{Score: score, Member: job.ID})
		pipe.Set(ctx, q.jobKey(job.ID), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ジョブ状態の更新に失敗: %w", err)
	}
	return nil
}

// RecoverStalled はリース期限を過ぎた実行中ジョブを待機に戻す。
// 取り出し時点で実行回数に数えているため、上限に達したジョブはfailedへ移す。
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("active"), &redis.ZRangeBy{Min: "-inf", Max: msString(now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("停滞ジョブの取得に失敗: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		job, err := loadJob(ctx, q.rdb, q.jobKey(id))
		if err != nil {
			return recovered, err
		}
		if job == nil {
			q.rdb.ZRem(ctx, q.key("active"), id)
			continue
		}
		if _, err := q.fail(ctx, job, errors.New("job stalled: lease expired"), ""); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Counts は状態別のジョブ数を返す。
func (q *Queue) Counts(ctx context.Context) (map[model.JobState]int64, error) {
	now := msString(q.now())
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCount(ctx, q.key("wait"), "-inf", now)
	delayed := pipe.ZCount(ctx, q.key("wait"), "("+now, "+inf")
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ジョブ数の取得に失敗: %w", err)
	}

	return map[model.JobState]int64{
		model.JobStateWaiting:   waiting.Val(),
		model.JobStateDelayed:   delayed.Val(),
		model.JobStateActive:    active.Val(),
		model.JobStateCompleted: completed.Val(),
		model.JobStateFailed:    failed.Val(),
	}, nil
}

// List は指定状態のジョブを返す。waiting/delayed/activeは古い順、completed/failedは新しい順。
func (q *Queue) List(ctx context.Context, state model.JobState, offset, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := msString(q.now())
	stop := int64(offset + limit - 1)

	var ids []string
	var err error
	switch state {
	case model.JobStateWaiting:
		ids, err = q.rdb.ZRangeByScore(ctx, q.key("wait"), &redis.ZRangeBy{Min: "-inf", Max: now, Offset: int64(offset), Count: int64(limit)}).Result()
	case model.JobStateDelayed:
		ids, err = q.rdb.ZRangeByScore(ctx, q.key("wait"), &redis.ZRangeBy{Min: "(" + now, Max: "+inf", Offset: int64(offset), Count: int64(limit)}).Result()
	case model.JobStateActive:
		ids, err = q.rdb.ZRange(ctx, q.key("active"), int64(offset), stop).Result()
	case model.JobStateCompleted, model.JobStateFailed:
		ids, err = q.rdb.ZRevRange(ctx, q.setKey(state), int64(offset), stop).Result()
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブ一覧の取得に失敗: %w", err)
	}
	return q.loadJobs(ctx, ids)
}

// Get はジョブを返す。存在しない場合は (nil, nil) を返す。
func (q *Queue) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := loadJob(ctx, q.rdb, q.jobKey(id))
	if err != nil || job == nil {
		return job, err
	}
	q.refreshWaitState(job)
	return job, nil
}

// Retry は失敗したジョブを実行回数をリセットして待機に戻す。
func (q *Queue) Retry(ctx context.Context, id string) (*model.Job, error) {
	job, err := loadJob(ctx, q.rdb, q.jobKey(id))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	if err := q.rdb.ZScore(ctx, q.key("failed"), id).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFailed
		}
		return nil, fmt.Errorf("ジョブ状態の確認に失敗: %w", err)
	}

	now := q.now()
	job.Attempts = 0
	job.State = model.JobStateWaiting
	job.Error = ""
	job.Stack = ""
	job.RunAt = now
	job.ProcessedAt = nil
	job.FinishedAt = nil

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("ジョブのエンコードに失敗: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key("failed"), id)
		pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: ms(now), Member: id})
		pipe.Set(ctx, q.jobKey(id), data, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ジョブの再投入に失敗: %w", err)
	}
	return job, nil
}

// Clean は指定状態でgraceより古いジョブを最大limit件削除し、削除したIDを返す。
// completed/failedは完了時刻、waitingは実行可能になった時刻で判定する。limitが0以下なら無制限。
func (q *Queue) Clean(ctx context.Context, state model.JobState, grace time.Duration, limit int) ([]string, error) {
	switch state {
	case model.JobStateCompleted, model.JobStateFailed, model.JobStateWaiting:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}

	by := &redis.ZRangeBy{Min: "-inf", Max: msString(q.now().Add(-grace))}
	if limit > 0 {
		by.Count = int64(limit)
	}
	setKey := q.setKey(state)
	ids, err := q.rdb.ZRangeByScore(ctx, setKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("削除対象の取得に失敗: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = q.jobKey(id)
		members[i] = id
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, setKey, members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ジョブの削除に失敗: %w", err)
	}
	return ids, nil
}

// Pause はジョブの取り出しを停止する。実行中のジョブには影響しない。
func (q *Queue) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, q.key("paused"), "1", 0).Err()
}

// Resume はジョブの取り出しを再開する。
func (q *Queue) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, q.key("paused")).Err()
}

// IsPaused は停止中かを返す。
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return false, fmt.Errorf("停止状態の取得に失敗: %w", err)
	}
	return n > 0, nil
}

func (q *Queue) loadJobs(ctx context.Context, ids []string) ([]*model.Job, error) {
	if len(ids) == 0 {
		return []*model.Job{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.jobKey(id)
	}
	values, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ジョブの取得に失敗: %w", err)
	}

	jobs := make([]*model.Job, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, fmt.Errorf("ジョブのデコードに失敗: %w", err)
		}
		q.refreshWaitState(&job)
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// refreshWaitState は待機集合にあるジョブの状態を現在時刻で判定し直す。
func (q *Queue) refreshWaitState(job *model.Job) {
	if job.State != model.JobStateWaiting && job.State != model.JobStateDelayed {
		return
	}
	if job.RunAt.After(q.now()) {
		job.State = model.JobStateDelayed
	} else {
		job.State = model.JobStateWaiting
	}
}

func loadJob(ctx context.Context, c redis.Cmdable, key string) (*model.Job, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブの取得に失敗: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("ジョブのデコードに失敗: %w", err)
	}
	return &job, nil
}
