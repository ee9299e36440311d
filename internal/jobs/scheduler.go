package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// GoScheduler は同一プロセス内の goroutine でジョブを実行します。
// Redis を用意しない単一プロセス構成向けです。Schedule は起動のみ行い
// すぐに戻ります。ワーカー側の panic は捕捉し、ホストを落としません。
type GoScheduler struct {
	runner Runner
	logger *logrus.Logger
	wg     sync.WaitGroup
}

// NewGoScheduler は GoScheduler を作成します。
func NewGoScheduler(runner Runner, logger *logrus.Logger) *GoScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &GoScheduler{runner: runner, logger: logger}
}

// Schedule はジョブをバックグラウンドで起動します。
// リクエストのキャンセルに巻き込まれないよう、実行コンテキストは切り離します。
func (s *GoScheduler) Schedule(_ context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("jobId", jobID).Errorf("extraction worker panicked: %v", r)
			}
		}()
		if err := s.runner.Run(context.Background(), jobID); err != nil {
			s.logger.WithField("jobId", jobID).WithError(err).Error("extraction job failed")
		}
	}()
	return nil
}

// Wait は起動済みの全ジョブの完了を待ちます。主にテストとシャットダウンで使います。
func (s *GoScheduler) Wait() {
	s.wg.Wait()
}

// Shutdown は起動済みの全ジョブの完了を待ちます。ctx の期限で打ち切ります。
func (s *GoScheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
