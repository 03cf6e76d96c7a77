// Package document loads analysis and reference documents into UTF-8 text
// and keeps backups for in-place write-back.
package document

import (
	"bytes"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"formula-corrector/internal/logger"
	"formula-corrector/internal/types"
)

// Encoding names reported by DetectEncoding.
const (
	EncodingUTF8    = "UTF-8"
	EncodingUTF8BOM = "UTF-8-BOM"
	EncodingUTF16LE = "UTF-16LE"
	EncodingUTF16BE = "UTF-16BE"
	EncodingGBK     = "GBK"
	EncodingUnknown = "UNKNOWN"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectEncoding inspects raw bytes and returns one of the Encoding* names.
func DetectEncoding(data []byte) string {
	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return EncodingUTF8BOM
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return EncodingUTF16LE
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return EncodingUTF16BE
	case utf8.Valid(data):
		return EncodingUTF8
	case isValidGBK(data):
		return EncodingGBK
	default:
		return EncodingUnknown
	}
}

// isValidGBK checks if data decodes cleanly as GBK
func isValidGBK(data []byte) bool {
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return false
	}
	return utf8.Valid(decoded)
}

func decoderFor(enc string) encoding.Encoding {
	switch enc {
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case EncodingGBK:
		return simplifiedchinese.GBK
	default:
		return nil
	}
}

// Decode converts raw bytes into a UTF-8 string without a BOM.
// Unknown encodings are passed through with invalid sequences replaced.
func Decode(data []byte) (string, string, error) {
	enc := DetectEncoding(data)
	switch enc {
	case EncodingUTF8:
		return string(data), enc, nil
	case EncodingUTF8BOM:
		return string(data[len(utf8BOM):]), enc, nil
	case EncodingUnknown:
		logger.Warn("unknown encoding detected, replacing invalid sequences")
		return string(bytes.ToValidUTF8(data, []byte("�"))), enc, nil
	}

	decoded, err := decoderFor(enc).NewDecoder().Bytes(data)
	if err != nil {
		return "", enc, fmt.Errorf("failed to decode from %s: %w", enc, err)
	}
	return string(decoded), enc, nil
}

// ReadText reads a document from disk and returns its content as UTF-8.
func ReadText(path string) (string, error) {
	logger.Debug("reading document", logger.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", types.NewAppErrorWithDetails(types.ErrFileNotFound, "document not found", path, err)
		}
		logger.Error("failed to read document", err, logger.String("path", path))
		return "", types.NewAppErrorWithDetails(types.ErrInvalidInput, "failed to read document", path, err)
	}

	text, enc, err := Decode(data)
	if err != nil {
		logger.Error("failed to decode document", err, logger.String("path", path))
		return "", types.NewAppErrorWithDetails(types.ErrInvalidInput, "failed to decode document", path, err)
	}
	if enc != EncodingUTF8 {
		logger.Info("document converted to UTF-8",
			logger.String("path", path),
			logger.String("from", enc))
	}
	return text, nil
}

// WriteText writes UTF-8 content to path, creating a backup of the existing
// file first when backups is non-nil. The backup path is returned (empty when
// no backup was taken).
func WriteText(path, content string, backups *BackupManager) (string, error) {
	var backup string
	if backups != nil {
		if _, err := os.Stat(path); err == nil {
			b, err := backups.CreateBackup(path)
			if err != nil {
				return "", fmt.Errorf("failed to create backup: %w", err)
			}
			backup = b
		}
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		if backup != "" {
			if rerr := backups.Restore(backup, path); rerr != nil {
				logger.Error("failed to restore backup after write failure", rerr)
			}
		}
		logger.Error("failed to write document", err, logger.String("path", path))
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return backup, nil
}
