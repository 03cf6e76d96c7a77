package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"formula-corrector/internal/logger"
)

// backupTimeLayout sorts lexically in chronological order.
const backupTimeLayout = "20060102_150405.000000000"

// BackupManager manages file backups for in-place corrections
type BackupManager struct {
	backupDir string
	now       func() time.Time
}

// NewBackupManager creates a new BackupManager.
// If backupDir is empty, backups are created next to the original file.
func NewBackupManager(backupDir string) *BackupManager {
	return &BackupManager{
		backupDir: backupDir,
		now:       time.Now,
	}
}

// CreateBackup copies path to a timestamped backup and returns the backup path.
func (m *BackupManager) CreateBackup(path string) (string, error) {
	logger.Debug("creating backup", logger.String("path", path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("file does not exist: %s", path)
	}

	timestamp := m.now().Format(backupTimeLayout)
	backupName := filepath.Base(path) + ".backup_" + timestamp

	backupPath := path + ".backup_" + timestamp
	if m.backupDir != "" {
		if err := os.MkdirAll(m.backupDir, 0755); err != nil {
			logger.Error("failed to create backup directory", err)
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
		backupPath = filepath.Join(m.backupDir, backupName)
	}

	if err := copyFile(path, backupPath); err != nil {
		logger.Error("failed to copy file", err)
		return "", fmt.Errorf("failed to copy file: %w", err)
	}

	logger.Info("backup created", logger.String("backupPath", backupPath))
	return backupPath, nil
}

// Restore copies a backup over the original file
func (m *BackupManager) Restore(backupPath string, originalPath string) error {
	logger.Debug("restoring from backup",
		logger.String("backupPath", backupPath),
		logger.String("originalPath", originalPath))

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file does not exist: %s", backupPath)
	}
	if err := copyFile(backupPath, originalPath); err != nil {
		logger.Error("failed to restore backup", err)
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	logger.Info("file restored from backup")
	return nil
}

// ListBackups lists backups of path, newest first
func (m *BackupManager) ListBackups(path string) ([]string, error) {
	searchDir := m.backupDir
	if searchDir == "" {
		searchDir = filepath.Dir(path)
	}

	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	prefix := filepath.Base(path) + ".backup_"
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(searchDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// CleanupBackups removes all but the newest keepCount backups of path
func (m *BackupManager) CleanupBackups(path string, keepCount int) error {
	backups, err := m.ListBackups(path)
	if err != nil {
		return err
	}

	removed := 0
	for i := keepCount; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			logger.Warn("failed to remove backup", logger.Err(err), logger.String("path", backups[i]))
			continue
		}
		removed++
	}

	logger.Debug("backup cleanup completed",
		logger.Int("totalBackups", len(backups)),
		logger.Int("removed", removed))
	return nil
}

// copyFile copies src to dst and keeps the source permissions
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	if err := destFile.Sync(); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}
