package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/image-forge/internal/jobs"
)

// PrepareExtractionJob はアップロードされたPDFを検証して作業領域に保存し、
// ジョブレコードを作成します。検証に失敗した場合、レコードは作成されません。
func (s *Service) PrepareExtractionJob(ctx context.Context, file *multipart.FileHeader) (*jobs.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == nil {
		return nil, newError("INVALID_INPUT", "No PDF file uploaded", nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("File exceeds the maximum size of %d bytes", s.cfg.MaxFileSize), nil)
	}
	if err := validatePDF(file); err != nil {
		return nil, err
	}

	record, err := s.store.Create(ctx, filepath.Base(file.Filename), file.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	ws, err := s.createWorkspace(record.ID)
	if err != nil {
		s.markFailed(ctx, record.ID, err)
		return nil, err
	}
	if err := saveMultipartFile(file, ws.srcPath); err != nil {
		_ = removeDir(ws.dir)
		s.markFailed(ctx, record.ID, err)
		return nil, fmt.Errorf("failed to store uploaded file: %w", err)
	}

	return record, nil
}

// DiscardJob は投入に失敗したジョブの入力を破棄し、レコードを失敗状態にします。
func (s *Service) DiscardJob(ctx context.Context, jobID string) {
	ws := s.workspaceFor(jobID)
	_ = removeDir(ws.dir)
	s.markFailed(ctx, jobID, errors.New("failed to schedule extraction job"))
}

// validatePDF は申告された Content-Type を確認し、不明な場合は
// 先頭バイトのシグネチャで判定します。
func validatePDF(file *multipart.FileHeader) error {
	if ct := file.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType == "application/pdf" {
			return nil
		}
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(src, head)
	if mimetype.Detect(head[:n]).Is("application/pdf") {
		return nil
	}
	return newError("INVALID_INPUT", "Only PDF files are allowed", nil)
}

func saveMultipartFile(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return nil
}
