// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ジョブの結果ラベル
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// キューワーカー、各ステージ、スケジューラから利用する。
type MetricsCollector interface {
	RecordJob(queue, outcome string, duration time.Duration)
	RecordSourceFetch(sourceType string, ok bool)
	RecordHTTPStatus(statusCode int)
	RecordCandidateRejected(reason string)
	RecordArticleCreated(category string)
	RecordAIFallback(kind string)
	RecordScheduled(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobs              *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	sourceFetches     *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	candidateRejected *prometheus.CounterVec
	articlesCreated   *prometheus.CounterVec
	aiFallbacks       *prometheus.CounterVec
	scheduled         prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_jobs_total",
			Help: "キュー・結果別のジョブ実行数",
		}, []string{"queue", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsdesk_job_duration_seconds",
			Help:    "ジョブの実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_source_fetch_total",
			Help: "ソース種別・結果別のフェッチ数",
		}, []string{"source_type", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		candidateRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_candidates_rejected_total",
			Help: "理由別の候補記事の不採用数",
		}, []string{"reason"}),
		articlesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_articles_created_total",
			Help: "カテゴリ別の公開記事数",
		}, []string{"category"}),
		aiFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdesk_ai_fallback_total",
			Help: "AI呼び出しからフォールバックした回数",
		}, []string{"kind"}),
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsdesk_scheduler_enqueued_total",
			Help: "スケジューラが投入したフェッチジョブの合計数",
		}),
	}

	reg.MustRegister(
		c.jobs,
		c.jobDuration,
		c.sourceFetches,
		c.httpStatus,
		c.candidateRejected,
		c.articlesCreated,
		c.aiFallbacks,
		c.scheduled,
	)

	return c
}

// RecordJob はジョブの結果と実行時間を記録する。
func (c *Collector) RecordJob(queue, outcome string, duration time.Duration) {
	c.jobs.WithLabelValues(queue, outcome).Inc()
	c.jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordSourceFetch はソースのフェッチ結果を記録する。
func (c *Collector) RecordSourceFetch(sourceType string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.sourceFetches.WithLabelValues(sourceType, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCandidateRejected は候補記事の不採用を記録する。
func (c *Collector) RecordCandidateRejected(reason string) {
	c.candidateRejected.WithLabelValues(reason).Inc()
}

// RecordArticleCreated は公開記事の作成を記録する。
func (c *Collector) RecordArticleCreated(category string) {
	c.articlesCreated.WithLabelValues(category).Inc()
}

// RecordAIFallback はAI呼び出しからのフォールバックを記録する。
func (c *Collector) RecordAIFallback(kind string) {
	c.aiFallbacks.WithLabelValues(kind).Inc()
}

// RecordScheduled はスケジューラが投入したジョブ数を記録する。
func (c *Collector) RecordScheduled(count int) {
	c.scheduled.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsを登録したServeMuxを返す。
// ワーカープロセスのメトリクス公開用で、呼び出し側が他のルートを追加できる。
func SetupMetricsRoute(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
