package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/image-forge/internal/config"
)

// PageCounter はPDFのページ数を調べます。
type PageCounter interface {
	CountPages(ctx context.Context, path string) (int, error)
}

// ImageExtractor はPDFの埋め込み画像を outDir に書き出し、
// 書き出したファイルのパスを名前順で返します。
type ImageExtractor interface {
	ExtractImages(ctx context.Context, path, outDir string) ([]string, error)
}

// ImageProbe は画像1枚の検査結果です。
type ImageProbe struct {
	Width  int
	Height int
	Format string
}

// ImageProber は画像ファイルの寸法と形式を調べます。
type ImageProber interface {
	ProbeImage(path string) (*ImageProbe, error)
}

// Toolset はパイプラインが依存する外部ツール群をまとめます。
// パイプラインの正しさは各ツールの入出力契約にのみ依存します。
type Toolset struct {
	Pages  PageCounter
	Images ImageExtractor
	Probe  ImageProber
}

// NewToolset は設定に従ってツール群を組み立てます。
func NewToolset(cfg *config.Config) Toolset {
	var extractor ImageExtractor = &popplerExtractor{binPath: cfg.PdfimagesPath}
	if cfg.ImageExtractor == config.ExtractorPdfcpu {
		extractor = pdfcpuExtractor{}
	}
	return Toolset{
		Pages:  pdfcpuPageCounter{},
		Images: extractor,
		Probe:  stdProber{},
	}
}

type pdfcpuPageCounter struct{}

func (pdfcpuPageCounter) CountPages(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect page count: %w", err)
	}
	return count, nil
}

// popplerExtractor は poppler-utils の pdfimages を呼び出します。
type popplerExtractor struct {
	binPath string
}

func (p *popplerExtractor) ExtractImages(ctx context.Context, path, outDir string) ([]string, error) {
	bin := p.binPath
	if bin == "" {
		bin = "pdfimages"
	}
	prefix := filepath.Join(outDir, "image")

	cmd := exec.CommandContext(ctx, bin, "-all", path, prefix)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdfimages failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return listImageFiles(outDir)
}

// pdfcpuExtractor は pdfcpu のみで画像を抽出します。
// pdfimages を導入できない環境向けの代替です。
type pdfcpuExtractor struct{}

func (pdfcpuExtractor) ExtractImages(ctx context.Context, path, outDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pdfapi.ExtractImagesFile(path, outDir, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}
	return listImageFiles(outDir)
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".ppm":  {},
	".pbm":  {},
	".pgm":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".webp": {},
}

func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
