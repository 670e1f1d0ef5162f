package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrPDFUnsupported means no PDF renderer is installed.
	ErrPDFUnsupported = errors.New("pdf rendering is not available")
	// ErrNotRasterizable is returned for formats that are read as text only.
	ErrNotRasterizable = errors.New("document format cannot be rendered to images")
	errNoPages         = errors.New("no pages could be prepared")
)

type Config struct {
	MaxDimension int
	JPEGQuality  int
	DPI          int
	MaxPages     int
	Pdftoppm     string
}

func DefaultConfig() Config {
	return Config{
		MaxDimension: 2048,
		JPEGQuality:  85,
		DPI:          150,
		MaxPages:     10,
		Pdftoppm:     "pdftoppm",
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()
	if out.MaxDimension <= 0 {
		out.MaxDimension = def.MaxDimension
	}
	if out.JPEGQuality <= 0 || out.JPEGQuality > 100 {
		out.JPEGQuality = def.JPEGQuality
	}
	if out.DPI <= 0 {
		out.DPI = def.DPI
	}
	if out.MaxPages <= 0 {
		out.MaxPages = def.MaxPages
	}
	if out.Pdftoppm == "" {
		out.Pdftoppm = def.Pdftoppm
	}
	return out
}

// Preparer renders documents into bounded JPEG pages for the vision model.
type Preparer struct {
	cfg      Config
	runner   Runner
	lookPath func(string) (string, error)
}

func NewPreparer(cfg Config, runner Runner) *Preparer {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Preparer{
		cfg:      cfg.normalize(),
		runner:   runner,
		lookPath: exec.LookPath,
	}
}

func (p *Preparer) Prepare(ctx context.Context, data []byte, filename string) ([]domain.PageImage, error) {
	switch domain.FileExt(filename) {
	case "pdf":
		return p.preparePDF(ctx, data, filename)
	case "jpg", "jpeg", "png", "tiff", "tif", "gif", "webp", "bmp":
		page, err := p.encodePage(0, data)
		if err != nil {
			slog.Warn("image_page_dropped", "filename", filename, "page", 0, "error", err)
			return nil, fmt.Errorf("%w: %v", errNoPages, err)
		}
		return []domain.PageImage{page}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotRasterizable, filename)
	}
}

func (p *Preparer) preparePDF(ctx context.Context, data []byte, filename string) ([]domain.PageImage, error) {
	if _, err := p.lookPath(p.cfg.Pdftoppm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFUnsupported, err)
	}

	tmpDir, err := os.MkdirTemp("", "intake-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{
		"-r", strconv.Itoa(p.cfg.DPI),
		"-f", "1",
		"-l", strconv.Itoa(p.cfg.MaxPages),
		"-png", input, prefix,
	}
	if _, stderr, err := p.runner.Run(ctx, p.cfg.Pdftoppm, args...); err != nil {
		return nil, fmt.Errorf("render pdf %s: %w: %s", filename, err, truncate(string(stderr), 512))
	}

	rendered, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(rendered)
	if len(rendered) > p.cfg.MaxPages {
		rendered = rendered[:p.cfg.MaxPages]
	}

	pages := make([]domain.PageImage, 0, len(rendered))
	for idx, path := range rendered {
		raw, err := os.ReadFile(path)
		if err == nil {
			var page domain.PageImage
			page, err = p.encodePage(idx, raw)
			if err == nil {
				pages = append(pages, page)
				continue
			}
		}
		slog.Warn("image_page_dropped", "filename", filename, "page", idx, "error", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", errNoPages, filename)
	}
	return pages, nil
}

// encodePage decodes one raster page, fits it inside MaxDimension, flattens
// transparency onto white and re-encodes it as JPEG.
func (p *Preparer) encodePage(index int, raw []byte) (domain.PageImage, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.PageImage{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), p.cfg.MaxDimension)
	if width == 0 || height == 0 {
		return domain.PageImage{}, errors.New("image has no pixels")
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.cfg.JPEGQuality}); err != nil {
		return domain.PageImage{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return domain.PageImage{
		Index:  index,
		JPEG:   buf.Bytes(),
		Width:  width,
		Height: height,
	}, nil
}

// fitWithin scales (w, h) down so the longer side is at most limit. It never upscales.
func fitWithin(w, h, limit int) (int, int) {
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= limit || longest == 0 {
		return w, h
	}
	scaledW := (w*limit + longest/2) / longest
	scaledH := (h*limit + longest/2) / longest
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	return scaledW, scaledH
}
