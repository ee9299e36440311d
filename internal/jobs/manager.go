package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	taskTypeExtract = "extract:process"
	queueExtract    = "extract"
)

// Runner は1件のジョブを端から端まで実行します。
// 処理中の失敗はレコードの終端状態として記録され、戻り値の error は
// 呼び出し側のログ用です。
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Manager は Asynq によるジョブ投入とワーカー管理を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	logger *logrus.Logger
}

type taskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, concurrency int, runner Runner, logger *logrus.Logger) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueExtract: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeExtract, manager.handleExtractTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.WithError(err).Error("asynq server stopped with error")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Schedule はジョブをキューに投入します。投入後すぐに戻ります。
func (m *Manager) Schedule(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	body, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeExtract, body, asynq.Queue(queueExtract))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return err
	}
	return nil
}

func (m *Manager) handleExtractTask(ctx context.Context, task *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	// ジョブの失敗はレコード側に記録済みなので、タスクとしては再試行しない
	if err := m.runner.Run(ctx, payload.JobID); err != nil {
		m.logger.WithField("jobId", payload.JobID).WithError(err).Error("extraction job failed")
	}
	return nil
}
