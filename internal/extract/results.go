package extract

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/yourusername/image-forge/internal/jobs"
)

// OpenZip はジョブIDに対応するZIPアーカイブを開きます。
// ジョブが存在しない、または成果物が未生成の場合は fs.ErrNotExist を返します。
func (s *Service) OpenZip(ctx context.Context, jobID string) (*jobs.Record, *os.File, error) {
	return s.openArtifact(ctx, jobID, func(r *jobs.Record) string { return r.ZipPath })
}

// OpenJSON はジョブIDに対応するメタデータJSONを開きます。
// 失敗条件は OpenZip と同じです。
func (s *Service) OpenJSON(ctx context.Context, jobID string) (*jobs.Record, *os.File, error) {
	return s.openArtifact(ctx, jobID, func(r *jobs.Record) string { return r.JSONPath })
}

func (s *Service) openArtifact(ctx context.Context, jobID string, pathOf func(*jobs.Record) string) (*jobs.Record, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, fs.ErrNotExist
	}

	path := pathOf(record)
	if path == "" {
		return nil, nil, fs.ErrNotExist
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return record, file, nil
}
