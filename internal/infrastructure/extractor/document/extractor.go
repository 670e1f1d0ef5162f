package document

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/referral-intake/internal/infrastructure/imaging"
	"github.com/ledongthuc/pdf"
)

const maxDocumentBytes = 50 << 20

type Config struct {
	// Tesseract enables OCR of image attachments when set to a binary path.
	Tesseract string
}

// Extractor returns best-effort plain text for an attachment. Failures are
// logged and yield "".
type Extractor struct {
	cfg    Config
	runner imaging.Runner
}

func NewExtractor(cfg Config, runner imaging.Runner) *Extractor {
	if runner == nil {
		runner = imaging.ExecRunner{}
	}
	return &Extractor{cfg: cfg, runner: runner}
}

func (e *Extractor) ExtractText(ctx context.Context, data []byte, filename string) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > maxDocumentBytes {
		slog.Warn("text_extraction_skipped", "filename", filename, "reason", "too_large", "bytes", len(data))
		return ""
	}

	text, err := e.extract(ctx, data, filename)
	if err != nil {
		slog.Warn("text_extraction_failed", "filename", filename, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (e *Extractor) extract(ctx context.Context, data []byte, filename string) (string, error) {
	switch domain.FileExt(filename) {
	case "pdf":
		return pdfText(data)
	case "docx":
		return docxText(data)
	case "doc":
		return "", fmt.Errorf("legacy word format is not supported: %s", filename)
	case "html", "htm":
		return htmltext.Convert(bytes.NewReader(data))
	case "jpg", "jpeg", "png", "tiff", "tif", "gif", "webp", "bmp":
		return e.ocrImage(ctx, data, filename)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("unsupported binary format: %s", filename)
		}
		return string(data), nil
	}
}

// pdfText reads the embedded text layer. The pdf library panics on some
// malformed inputs, so panics become errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(raw), nil
}

// docxText concatenates paragraph text from word/document.xml.
func docxText(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var part *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}

	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("open document part: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(io.LimitReader(rc, maxDocumentBytes))
	var b strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document part: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return b.String(), nil
}

func (e *Extractor) ocrImage(ctx context.Context, data []byte, filename string) (string, error) {
	if e.cfg.Tesseract == "" {
		return "", nil
	}
	tmpDir, err := os.MkdirTemp("", "intake-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create ocr dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	input := filepath.Join(tmpDir, "input."+domain.FileExt(filename))
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("write ocr input: %w", err)
	}
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, input, "stdout")
	if err != nil {
		return "", fmt.Errorf("tesseract %s: %w", filename, err)
	}
	return string(out), nil
}
