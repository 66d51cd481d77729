// Package queue はRedisを永続化先とするステージ別のジョブキューとワーカーを提供する。
//
// キューごとに次のキーを持つ（{name}はキュー名）:
//
//	newsdesk:queue:{name}:job:{id}  ジョブ本体（JSON）
//	newsdesk:queue:{name}:wait      待機中・遅延中のジョブ（スコア: 実行可能時刻ms）
//	newsdesk:queue:{name}:active    実行中のジョブ（スコア: リース期限ms）
//	newsdesk:queue:{name}:completed 完了したジョブ（スコア: 完了時刻ms）
//	newsdesk:queue:{name}:failed    失敗したジョブ（スコア: 失敗時刻ms）
//	newsdesk:queue:{name}:paused    存在する間は取り出しを停止
package queue

import (
	"errors"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// キュー名
const (
	QueueFetch   = "fetch"
	QueueProcess = "process"
	QueuePublish = "publish"
)

// ジョブ名
const (
	JobFetchSource      = "fetch-source"
	JobProcessCandidate = "process-candidate"
	JobPublishArticle   = "publish-article"
)

// Names は全キュー名。
var Names = []string{QueueFetch, QueueProcess, QueuePublish}

// IsKnown は既知のキュー名かを返す。
func IsKnown(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Policy はキューごとのリトライ方針。
type Policy struct {
	MaxAttempts int
	Backoff     model.Backoff
}

// DefaultPolicies はステージ別の既定のリトライ方針。
// fetchは5秒から指数バックオフで計3回、processは10秒から計2回、publishはリトライしない。
var DefaultPolicies = map[string]Policy{
	QueueFetch:   {MaxAttempts: 3, Backoff: model.Backoff{Type: model.BackoffExponential, Delay: 5 * time.Second}},
	QueueProcess: {MaxAttempts: 2, Backoff: model.Backoff{Type: model.BackoffExponential, Delay: 10 * time.Second}},
	QueuePublish: {MaxAttempts: 1},
}

// キュー操作のエラー
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotFailed = errors.New("job is not in failed state")
	ErrInvalidState = errors.New("invalid job state")
)

// NextDelay は実行済み回数attemptsのジョブを再実行するまでの待ち時間を返す。
// 指数バックオフは delay * 2^(attempts-1)。
func NextDelay(b model.Backoff, attempts int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != model.BackoffExponential || attempts <= 1 {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d > time.Hour {
			return time.Hour
		}
	}
	return d
}

// permanentError はリトライしても成功しない失敗を表す。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はerrをリトライ不要の失敗としてマークする。
// ハンドラーがこのエラーを返したジョブは残り回数に関わらずfailedへ移る。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はerrがPermanentでマークされているかを返す。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Option はジョブ投入時の設定。
type Option func(job *model.Job)

// WithDelay は実行開始をdだけ遅らせる。
func WithDelay(d time.Duration) Option {
	return func(job *model.Job) {
		job.RunAt = job.RunAt.Add(d)
	}
}

// WithJobID はジョブIDを指定する。同じIDのジョブが既にある場合は投入しない。
func WithJobID(id string) Option {
	return func(job *model.Job) {
		job.ID = id
	}
}

// WithMaxAttempts はキューの既定より優先する最大実行回数を指定する。
func WithMaxAttempts(n int) Option {
	return func(job *model.Job) {
		if n > 0 {
			job.MaxAttempts = n
		}
	}
}
