package reference

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"formula-corrector/internal/document"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/types"
)

// ReadFile returns the text of a reference document. PDF files are reduced
// to their plain text page by page; anything else is read as text.
func ReadFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	return document.ReadText(path)
}

func readPDF(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", types.NewAppErrorWithDetails(types.ErrFileNotFound, "reference not found", path, err)
		}
		return "", types.NewAppErrorWithDetails(types.ErrInvalidInput, "cannot access reference", path, err)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrExtract, "cannot open PDF reference", path, err)
	}
	defer f.Close()

	var b strings.Builder
	skipped := 0
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			skipped++
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(content)
	}

	if skipped > 0 {
		logger.Warn("some PDF pages could not be read",
			logger.String("path", path),
			logger.Int("skipped", skipped))
	}
	logger.Debug("PDF reference extracted",
		logger.String("path", path),
		logger.Int("pages", r.NumPage()),
		logger.Int("chars", b.Len()))
	return b.String(), nil
}
