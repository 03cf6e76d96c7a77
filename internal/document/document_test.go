package document

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	"formula-corrector/internal/types"
)

func TestDetectEncoding(t *testing.T) {
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("公式 $$x^2$$"))
	if err != nil {
		t.Fatalf("failed to encode GBK fixture: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"plain utf8", []byte("a\n$$x$$\n"), EncodingUTF8},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "abc"...), EncodingUTF8BOM},
		{"utf16 le", []byte{0xFF, 0xFE, 'a', 0}, EncodingUTF16LE},
		{"utf16 be", []byte{0xFE, 0xFF, 0, 'a'}, EncodingUTF16BE},
		{"gbk", gbk, EncodingGBK},
		{"empty", nil, EncodingUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectEncoding(tt.data); got != tt.want {
				t.Errorf("DetectEncoding() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	want := "a\n$$\\alpha$$\n公式"

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(want))
	if err != nil {
		t.Fatalf("failed to encode UTF-16 fixture: %v", err)
	}
	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(want))
	if err != nil {
		t.Fatalf("failed to encode GBK fixture: %v", err)
	}

	inputs := map[string][]byte{
		"utf8":     []byte(want),
		"utf8 bom": append([]byte{0xEF, 0xBB, 0xBF}, want...),
		"utf16":    utf16,
		"gbk":      gbk,
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			got, _, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != want {
				t.Errorf("Decode() = %q, want %q", got, want)
			}
		})
	}
}

func TestReadText(t *testing.T) {
	dir := t.TempDir()

	t.Run("strips BOM", func(t *testing.T) {
		path := filepath.Join(dir, "bom.md")
		if err := os.WriteFile(path, append([]byte{0xEF, 0xBB, 0xBF}, "$$x$$"...), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := ReadText(path)
		if err != nil {
			t.Fatalf("ReadText failed: %v", err)
		}
		if got != "$$x$$" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadText(filepath.Join(dir, "missing.md"))
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrFileNotFound {
			t.Errorf("expected FILE_NOT_FOUND, got %v", err)
		}
	})
}

func TestWriteTextWithBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "analysis.md")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	backups := NewBackupManager(filepath.Join(dir, "backups"))
	backup, err := WriteText(path, "corrected", backups)
	if err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if backup == "" {
		t.Fatal("expected a backup path")
	}

	content, _ := os.ReadFile(path)
	if string(content) != "corrected" {
		t.Errorf("file content = %q", content)
	}
	saved, _ := os.ReadFile(backup)
	if string(saved) != "original" {
		t.Errorf("backup content = %q", saved)
	}

	if err := backups.Restore(backup, path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	content, _ = os.ReadFile(path)
	if string(content) != "original" {
		t.Errorf("restored content = %q", content)
	}
}

func TestWriteTextNewFileSkipsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.md")
	backup, err := WriteText(path, "x", NewBackupManager(""))
	if err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if backup != "" {
		t.Errorf("expected no backup for a new file, got %s", backup)
	}
}

func TestBackupListAndCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("v"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewBackupManager("")
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		m.now = func() time.Time { return at }
		if _, err := m.CreateBackup(path); err != nil {
			t.Fatalf("CreateBackup failed: %v", err)
		}
	}

	backups, err := m.ListBackups(path)
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 4 {
		t.Fatalf("expected 4 backups, got %d", len(backups))
	}
	if backups[0] <= backups[1] {
		t.Errorf("backups not sorted newest first: %v", backups)
	}

	if err := m.CleanupBackups(path, 2); err != nil {
		t.Fatalf("CleanupBackups failed: %v", err)
	}
	backups, _ = m.ListBackups(path)
	if len(backups) != 2 {
		t.Errorf("expected 2 backups after cleanup, got %d", len(backups))
	}
}

func TestCreateBackupMissingFile(t *testing.T) {
	m := NewBackupManager("")
	if _, err := m.CreateBackup(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}
