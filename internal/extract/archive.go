package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/yourusername/image-forge/internal/jobs"
)

// buildMetadata は抽出結果レポートを組み立てます。
func (s *Service) buildMetadata(record *jobs.Record, totalPages int, images []jobs.ImageMetadata) *jobs.ExtractionMetadata {
	now := s.now().UTC()
	return &jobs.ExtractionMetadata{
		ExtractionInfo: jobs.ExtractionInfo{
			PDFFilename:    record.Filename,
			TotalPages:     totalPages,
			ExtractionDate: now.Format(time.RFC3339),
			ProcessingTime: formatDuration(now.Sub(record.StartedAt)),
			TotalImages:    len(images),
		},
		Images: images,
	}
}

// formatDuration は経過時間を「分:秒」形式（秒はゼロ埋め2桁）で返します。
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// createZip は files をZIPアーカイブに書き出します。圧縮データと
// セントラルディレクトリは Close 時に書き込まれるため、各 Close の
// エラーも書き込み失敗として返します。
func createZip(outputPath string, files []string) error {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create zip file: %w", err)
	}

	zipWriter := zip.NewWriter(outFile)
	if err := addZipEntries(zipWriter, files); err != nil {
		zipWriter.Close()
		outFile.Close()
		return err
	}

	if err := zipWriter.Close(); err != nil {
		outFile.Close()
		return fmt.Errorf("failed to finalize zip archive: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("failed to close zip archive: %w", err)
	}
	return nil
}

func addZipEntries(zipWriter *zip.Writer, files []string) error {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	for _, path := range sorted {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open zip input: %w", err)
		}

		info, err := file.Stat()
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to stat zip input: %w", err)
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to build zip header: %w", err)
		}
		header.Name = filepath.Base(path)
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			file.Close()
			return fmt.Errorf("failed to write zip header: %w", err)
		}

		if _, err := io.Copy(writer, file); err != nil {
			file.Close()
			return fmt.Errorf("failed to write zip entry: %w", err)
		}
		file.Close()
	}

	return nil
}
