package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Local extracts text with command-line tools: pdftotext for PDFs and
// tesseract for page images. Both binaries must be on PATH or configured
// with explicit paths.
type Local struct {
	pdfToTextPath string
	tesseractPath string
}

// NewLocal creates a Local engine. Empty paths fall back to the bare
// binary names.
func NewLocal(pdfToTextPath, tesseractPath string) *Local {
	if pdfToTextPath == "" {
		pdfToTextPath = "pdftotext"
	}
	if tesseractPath == "" {
		tesseractPath = "tesseract"
	}
	return &Local{pdfToTextPath: pdfToTextPath, tesseractPath: tesseractPath}
}

// ExtractText dispatches on file extension: images go through tesseract,
// everything else through pdftotext -layout.
func (l *Local) ExtractText(ctx context.Context, path string) (string, error) {
	if isImage(path) {
		return l.runTesseract(ctx, path)
	}
	return l.runPdfToText(ctx, path)
}

func (l *Local) runPdfToText(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, l.pdfToTextPath, "-layout", path, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", path, stderr.String())
	}

	return stdout.String(), nil
}

func (l *Local) runTesseract(ctx context.Context, path string) (string, error) {
	// "stdout" as the output base makes tesseract write text to stdout
	// instead of a .txt file next to the input.
	cmd := exec.CommandContext(ctx, l.tesseractPath, path, "stdout")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: tesseract failed for %s: %s", path, stderr.String())
	}

	return stdout.String(), nil
}
