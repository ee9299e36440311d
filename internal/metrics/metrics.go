// Package metrics は抽出パイプラインの Prometheus メトリクスを定義します。
// HTTP側は /metrics で promhttp ハンドラーを公開し、ここで登録した
// コレクターをそのまま配信します。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted は開始された抽出ジョブの総数です。
	JobsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageforge_jobs_started_total",
			Help: "Total number of extraction jobs started",
		},
	)

	// JobsFinished は終端状態に到達したジョブの総数です（result: completed / failed）。
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imageforge_jobs_finished_total",
			Help: "Total number of extraction jobs that reached a terminal state",
		},
		[]string{"result"},
	)

	// JobDuration はジョブ1件の処理時間の分布です。
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imageforge_job_duration_seconds",
			Help:    "Duration of extraction jobs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ImagesExtracted は成果物に含めた画像の総数です。
	ImagesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imageforge_images_extracted_total",
			Help: "Total number of images packaged into job archives",
		},
	)
)
