package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type funcRunner func(ctx context.Context, jobID string) error

func (f funcRunner) Run(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestGoSchedulerRunsJob(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	scheduler := NewGoScheduler(funcRunner(func(_ context.Context, jobID string) error {
		mu.Lock()
		seen = append(seen, jobID)
		mu.Unlock()
		return nil
	}), quietLogger())

	if err := scheduler.Schedule(context.Background(), "job-1"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	scheduler.Wait()

	if len(seen) != 1 || seen[0] != "job-1" {
		t.Fatalf("runner saw %v, want [job-1]", seen)
	}
}

func TestGoSchedulerRejectsEmptyJobID(t *testing.T) {
	scheduler := NewGoScheduler(funcRunner(func(context.Context, string) error { return nil }), quietLogger())
	if err := scheduler.Schedule(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty jobID")
	}
}

func TestGoSchedulerContainsPanic(t *testing.T) {
	scheduler := NewGoScheduler(funcRunner(func(context.Context, string) error {
		panic("worker exploded")
	}), quietLogger())

	if err := scheduler.Schedule(context.Background(), "job-1"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	// Wait が戻ればホストは panic に巻き込まれていません。
	scheduler.Wait()
}

func TestGoSchedulerShutdownWaitsForJobs(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool

	scheduler := NewGoScheduler(funcRunner(func(context.Context, string) error {
		<-release
		finished.Store(true)
		return nil
	}), quietLogger())

	if err := scheduler.Schedule(context.Background(), "job-1"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	close(release)
	if err := scheduler.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Shutdown returned before the job finished")
	}
}

func TestGoSchedulerShutdownHonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	scheduler := NewGoScheduler(funcRunner(func(context.Context, string) error {
		<-release
		return nil
	}), quietLogger())

	if err := scheduler.Schedule(context.Background(), "job-1"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := scheduler.Shutdown(ctx); err == nil {
		t.Fatal("expected deadline error while a job is still running")
	}
}

func TestGoSchedulerRunnerErrorDoesNotPropagate(t *testing.T) {
	scheduler := NewGoScheduler(funcRunner(func(context.Context, string) error {
		return errors.New("extraction failed")
	}), quietLogger())

	if err := scheduler.Schedule(context.Background(), "job-1"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	scheduler.Wait()
}
