package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/image-forge/internal/jobs"
	"github.com/yourusername/image-forge/internal/metrics"
)

// Run はジョブIDに対応する抽出パイプラインを端から端まで実行します。
// ステージは parsing → extracting → zipping の順に一度ずつ進みます。
// 途中でどのような失敗（panic を含む）が起きても、レコードは必ず
// completed か failed のどちらかに到達して戻ります。
func (s *Service) Run(ctx context.Context, jobID string) (err error) {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ws := s.workspaceFor(jobID)
	start := s.now()
	stage := jobs.StageParsing
	metrics.JobsStarted.Inc()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
		if err == nil {
			metrics.JobsFinished.WithLabelValues("completed").Inc()
		} else {
			logMessage := "Processing failed"
			if stage == jobs.StageExtracting {
				logMessage = "Image extraction failed"
			}
			s.addLog(ctx, jobID, jobs.LogError, fmt.Sprintf("%s: %v", logMessage, err))
			s.markFailed(ctx, jobID, err)
			metrics.JobsFinished.WithLabelValues("failed").Inc()
		}
		metrics.JobDuration.Observe(s.now().Sub(start).Seconds())
	}()

	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	s.addLog(ctx, jobID, jobs.LogInfo, fmt.Sprintf("PDF extraction started for: %s", record.Filename))
	s.update(ctx, jobID, func(r *jobs.Record) {
		r.Status = jobs.StatusProcessing
		r.CurrentStage = jobs.StageParsing
		r.Progress = 10
	})

	// 解析ステージ: ページ数は参考情報なので、取得に失敗しても続行する
	totalPages := 0
	if pages, countErr := s.countPages(ctx, ws.srcPath); countErr != nil {
		s.addLog(ctx, jobID, jobs.LogWarn, "Could not determine page count, proceeding with extraction")
	} else {
		totalPages = pages
		s.update(ctx, jobID, func(r *jobs.Record) {
			r.TotalPages = totalPages
		})
		s.addLog(ctx, jobID, jobs.LogDebug, fmt.Sprintf("Document contains %d pages", totalPages))
	}

	stage = jobs.StageExtracting
	s.update(ctx, jobID, func(r *jobs.Record) {
		r.Progress = 20
		r.CurrentStage = jobs.StageExtracting
	})

	images, imagePaths, totalImageSize, err := s.extractStage(ctx, jobID, ws, totalPages)
	if err != nil {
		return err
	}

	stage = jobs.StageZipping
	s.update(ctx, jobID, func(r *jobs.Record) {
		r.Progress = 85
		r.CurrentStage = jobs.StageZipping
		r.ImagesFound = len(images)
		r.TotalImageSize = totalImageSize
	})
	s.addLog(ctx, jobID, jobs.LogInfo, "Creating ZIP archive...")

	if err = createZip(ws.zipPath, imagePaths); err != nil {
		return err
	}

	metadata := s.buildMetadata(record, totalPages, images)
	if err = writeJSON(ws.jsonPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	completedAt := s.now().UTC()
	s.update(ctx, jobID, func(r *jobs.Record) {
		r.Status = jobs.StatusCompleted
		r.Progress = 100
		r.Metadata = metadata
		r.ZipPath = ws.zipPath
		r.JSONPath = ws.jsonPath
		r.CompletedAt = &completedAt
		r.ImagesFound = len(images)
		r.TotalImageSize = totalImageSize
	})
	metrics.ImagesExtracted.Add(float64(len(images)))
	s.addLog(ctx, jobID, jobs.LogInfo, fmt.Sprintf("Extraction completed successfully! Found %d images.", len(images)))

	// 後始末: 元のアップロードファイルの削除は失敗しても致命的ではない
	if rmErr := os.Remove(ws.srcPath); rmErr != nil {
		s.addLog(ctx, jobID, jobs.LogWarn, "Failed to clean up temporary files")
	}
	s.scheduleCleanup(ws)

	return nil
}

// extractStage は画像を抽出し、1枚ずつメタデータを収集します。
// メタデータを読めなかったファイルはスキップし、成果物（ZIPとレポートの両方）
// から除外します。1枚も残らなければステージ失敗です。
func (s *Service) extractStage(ctx context.Context, jobID string, ws workspace, totalPages int) ([]jobs.ImageMetadata, []string, int64, error) {
	files, err := s.extractImages(ctx, ws.srcPath, ws.outDir)
	if err != nil {
		return nil, nil, 0, err
	}
	s.addLog(ctx, jobID, jobs.LogInfo, "Image extraction completed, processing metadata...")

	images := make([]jobs.ImageMetadata, 0, len(files))
	kept := make([]string, 0, len(files))
	var totalImageSize int64

	for i, path := range files {
		filename := filepath.Base(path)

		probe, info, probeErr := s.probeImageFile(path)
		if probeErr != nil {
			s.addLog(ctx, jobID, jobs.LogWarn, fmt.Sprintf("Failed to process image: %s", filename))
		} else {
			images = append(images, jobs.ImageMetadata{
				Filename:  filename,
				Page:      assignPage(i, len(files), totalPages),
				SizeBytes: info.Size(),
				Dimensions: jobs.Dimensions{
					Width:       probe.Width,
					Height:      probe.Height,
					AspectRatio: aspectRatio(probe.Width, probe.Height),
				},
				Format: probe.Format,
				// ページ内座標の特定はPDF構造の解析が必要になるため未対応
				Position: jobs.Position{},
			})
			kept = append(kept, path)
			totalImageSize += info.Size()
			s.addLog(ctx, jobID, jobs.LogInfo, fmt.Sprintf("Processed %s (%dx%d, %dKB)",
				filename, probe.Width, probe.Height, info.Size()/1024))
		}

		progress := 20 + (60*(i+1))/len(files)
		imagesFound := len(images)
		size := totalImageSize
		s.update(ctx, jobID, func(r *jobs.Record) {
			r.Progress = progress
			r.PagesProcessed = min(totalPages, i+1)
			r.ImagesFound = imagesFound
			r.TotalImageSize = size
		})
	}

	if len(images) == 0 {
		return nil, nil, 0, errors.New("no images found in PDF")
	}
	return images, kept, totalImageSize, nil
}

func (s *Service) probeImageFile(path string) (*ImageProbe, os.FileInfo, error) {
	probe, err := s.tools.Probe.ProbeImage(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	return probe, info, nil
}

func (s *Service) countPages(ctx context.Context, path string) (int, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()
	return s.tools.Pages.CountPages(ctx, path)
}

func (s *Service) extractImages(ctx context.Context, path, outDir string) ([]string, error) {
	ctx, cancel := s.toolContext(ctx)
	defer cancel()
	return s.tools.Images.ExtractImages(ctx, path, outDir)
}

// toolContext は外部ツール1回分のコンテキストを返します。
// タイムアウト超過はそのステージの失敗として扱われます。
func (s *Service) toolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.ToolTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// assignPage はファイル順に基づくページ番号の概算です。総ページ数に
// 均等配分するだけで、PDF構造上の正確な対応ではありません。
func assignPage(index, total, totalPages int) int {
	if totalPages <= 0 {
		return 1
	}
	perPage := total / totalPages
	if perPage < 1 {
		perPage = 1
	}
	page := index/perPage + 1
	if page > totalPages {
		page = totalPages
	}
	return page
}

func aspectRatio(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	ratio := float64(width) / float64(height)
	return float64(int(ratio*100+0.5)) / 100
}
