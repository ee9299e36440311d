package extract

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
)

// stdProber は標準の画像デコーダーで寸法と形式を調べます。
// pdfimages が生で書き出す netpbm 系（ppm/pbm/pgm）はヘッダーを直接読みます。
type stdProber struct{}

func (stdProber) ProbeImage(path string) (*ImageProbe, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	if cfg, format, err := image.DecodeConfig(file); err == nil {
		return &ImageProbe{Width: cfg.Width, Height: cfg.Height, Format: strings.ToUpper(format)}, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image: %w", err)
	}
	if probe, err := decodeNetpbmConfig(file); err == nil {
		return probe, nil
	}

	// 寸法が読めない形式でも、画像であれば種別だけは報告する
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe image: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("not an image: %s", mt.String())
	}
	return &ImageProbe{Format: strings.ToUpper(strings.TrimPrefix(mt.Extension(), "."))}, nil
}

func decodeNetpbmConfig(r io.Reader) (*ImageProbe, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, 2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if magic[0] != 'P' || magic[1] < '1' || magic[1] > '6' {
		return nil, fmt.Errorf("not a netpbm image")
	}

	var format string
	switch magic[1] {
	case '1', '4':
		format = "PBM"
	case '2', '5':
		format = "PGM"
	default:
		format = "PPM"
	}

	width, err := readNetpbmInt(br)
	if err != nil {
		return nil, fmt.Errorf("invalid netpbm header: %w", err)
	}
	height, err := readNetpbmInt(br)
	if err != nil {
		return nil, fmt.Errorf("invalid netpbm header: %w", err)
	}

	return &ImageProbe{Width: width, Height: height, Format: format}, nil
}

// readNetpbmInt は空白とコメント行を読み飛ばし、次の10進数を読みます。
func readNetpbmInt(br *bufio.Reader) (int, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch {
		case b == '#':
			if _, err := br.ReadString('\n'); err != nil {
				return 0, err
			}
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
			continue
		case b >= '0' && b <= '9':
			n := int(b - '0')
			for {
				b, err := br.ReadByte()
				if err == io.EOF {
					return n, nil
				}
				if err != nil {
					return 0, err
				}
				if b < '0' || b > '9' {
					return n, nil
				}
				n = n*10 + int(b-'0')
			}
		default:
			return 0, fmt.Errorf("unexpected byte %q", b)
		}
	}
}
