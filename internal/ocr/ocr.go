// Package ocr turns uploaded invoice documents (PDFs and page images)
// into plain text for the extraction providers.
package ocr

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/config"
)

// Engine extracts text content from a document file.
type Engine interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// NewEngine creates an Engine based on config.
func NewEngine(cfg config.OCRConfig) (Engine, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLocal(cfg.PdfToTextPath, cfg.TesseractPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// supported file extensions for uploads, lowercase with dot.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// SupportedExt reports whether the engine stack can process a file with
// the given name.
func SupportedExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".pdf" || imageExts[ext]
}

func isImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}
