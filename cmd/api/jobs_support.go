package main

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/image-forge/internal/config"
	"github.com/yourusername/image-forge/internal/extract"
	"github.com/yourusername/image-forge/internal/jobs"
)

// newStore は設定に応じたジョブストアを組み立てます。
// 既定はプロセス内メモリで、複数プロセス構成では Redis を使います。
func newStore(cfg *config.Config) (jobs.Store, error) {
	if cfg.JobStore == config.StoreRedis {
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(cfg.JobExpireMinutes) * time.Minute
		return jobs.NewRedisStore(redis.NewClient(opt), ttl), nil
	}
	return jobs.NewMemoryStore(), nil
}

// newScheduler は設定に応じたスケジューラーを組み立てます。
// asynq を選んだ場合はワーカーもこのプロセス内で起動します。
// 2番目の戻り値は停止処理で、実行中のジョブの完了を ctx の期限まで待ちます。
func newScheduler(cfg *config.Config, runner jobs.Runner, logger *logrus.Logger) (extract.Scheduler, func(context.Context) error, error) {
	if cfg.Scheduler == config.SchedulerAsynq {
		manager, err := jobs.NewManager(cfg.QueueRedisURL, cfg.WorkerConcurrency, runner, logger)
		if err != nil {
			return nil, nil, err
		}
		manager.StartWorkers()
		return manager, manager.Shutdown, nil
	}
	scheduler := jobs.NewGoScheduler(runner, logger)
	return scheduler, scheduler.Shutdown, nil
}
