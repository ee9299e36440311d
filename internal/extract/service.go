// Package extract はPDFからの埋め込み画像抽出パイプラインを提供します。
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/image-forge/internal/config"
	"github.com/yourusername/image-forge/internal/jobs"
)

// Service は抽出ジョブの準備・実行・成果物配信をまとめます。
type Service struct {
	cfg    *config.Config
	store  jobs.Store
	tools  Toolset
	logger *logrus.Logger
	now    func() time.Time
}

// NewService は Service を作成します。
func NewService(cfg *config.Config, store jobs.Store, tools Toolset, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		tools:  tools,
		logger: logger,
		now:    time.Now,
	}
}

// Scheduler はジョブの実行をリクエスト処理から切り離します。
type Scheduler interface {
	Schedule(ctx context.Context, jobID string) error
}

// Error はAPI応答の種別に対応するエラーです。
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返します。
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// workspace はジョブごとの作業ディレクトリ構成です。
type workspace struct {
	jobID    string
	dir      string
	srcPath  string
	outDir   string
	zipPath  string
	jsonPath string
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.WorkDir, "jobs", jobID)
	return workspace{
		jobID:    jobID,
		dir:      dir,
		srcPath:  filepath.Join(dir, "source.pdf"),
		outDir:   filepath.Join(dir, "out"),
		zipPath:  filepath.Join(dir, "images.zip"),
		jsonPath: filepath.Join(dir, "metadata.json"),
	}
}

func (s *Service) createWorkspace(jobID string) (workspace, error) {
	ws := s.workspaceFor(jobID)
	if err := os.MkdirAll(ws.outDir, 0o750); err != nil {
		return workspace{}, fmt.Errorf("failed to create workspace: %w", err)
	}
	return ws, nil
}

// scheduleCleanup は保持期間経過後の作業ディレクトリ削除を予約します。
func (s *Service) scheduleCleanup(ws workspace) {
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		return
	}
	time.AfterFunc(time.Duration(expireMinutes)*time.Minute, func() {
		_ = removeDir(ws.dir)
	})
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func writeJSON(path string, payload any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// update はレコードを更新します。更新失敗はプロセスログに残すだけで、
// パイプラインは続行します。
func (s *Service) update(ctx context.Context, jobID string, mutate func(*jobs.Record)) {
	if _, err := s.store.Update(ctx, jobID, mutate); err != nil {
		s.logger.WithField("jobId", jobID).WithError(err).Warn("failed to update job record")
	}
}

// addLog はジョブレコードにログを追記し、プロセスログにも同じ内容を流します。
func (s *Service) addLog(ctx context.Context, jobID string, level jobs.LogLevel, message string) {
	now := s.now().UTC()
	s.update(ctx, jobID, func(r *jobs.Record) {
		r.AppendLog(now, level, message)
	})

	entry := s.logger.WithField("jobId", jobID)
	switch level {
	case jobs.LogDebug:
		entry.Debug(message)
	case jobs.LogWarn:
		entry.Warn(message)
	case jobs.LogError:
		entry.Error(message)
	default:
		entry.Info(message)
	}
}

func (s *Service) markFailed(ctx context.Context, jobID string, cause error) {
	completedAt := s.now().UTC()
	s.update(ctx, jobID, func(r *jobs.Record) {
		if r.Status.Terminal() {
			return
		}
		r.Status = jobs.StatusFailed
		r.ErrorMessage = cause.Error()
		r.CompletedAt = &completedAt
	})
}
