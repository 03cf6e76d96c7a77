// Package results provides correction run management functionality.
// It handles storing, listing, and loading finished correction sessions by
// session ID.
package results

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"formula-corrector/internal/agent"
	"formula-corrector/internal/diff"
	"formula-corrector/internal/logger"
)

const (
	metadataFile  = "metadata.json"
	correctedFile = "corrected.md"
	reportFile    = "report.yaml"
)

// RunInfo represents metadata about a saved correction run
type RunInfo struct {
	SessionID  string           `json:"session_id" yaml:"session_id"`
	CreatedAt  time.Time        `json:"created_at" yaml:"created_at"`
	Status     agent.Status     `json:"status" yaml:"status"`
	StopReason agent.StopReason `json:"stop_reason" yaml:"stop_reason"`
	IsComplete bool             `json:"is_complete" yaml:"is_complete"`
	// Source identification fields
	AnalysisPath  string `json:"analysis_path,omitempty" yaml:"analysis_path,omitempty"`
	ReferencePath string `json:"reference_path,omitempty" yaml:"reference_path,omitempty"`
	AnalysisMD5   string `json:"analysis_md5" yaml:"analysis_md5"`
	ReferenceMD5  string `json:"reference_md5,omitempty" yaml:"reference_md5,omitempty"`
	CorrectedMD5  string `json:"corrected_md5" yaml:"corrected_md5"`
	// Counters
	Corrections int  `json:"corrections" yaml:"corrections"`
	ToolCalls   int  `json:"tool_calls" yaml:"tool_calls"`
	Messages    int  `json:"messages" yaml:"messages"`
	Changed     bool `json:"changed" yaml:"changed"`
}

// Report is the content of report.yaml
type Report struct {
	Run    RunInfo       `yaml:"run"`
	Diff   diff.Stats    `yaml:"diff"`
	Result *agent.Result `yaml:"result"`
}

// ResultManager manages correction runs stored in user directory
type ResultManager struct {
	baseDir string // e.g. ~/formula-corrector-results
	now     func() time.Time
}

// NewResultManager creates a new ResultManager with the specified base directory
// If baseDir is empty, uses default location in user's home directory
func NewResultManager(baseDir string) (*ResultManager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, "formula-corrector-results")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &ResultManager{baseDir: baseDir, now: time.Now}, nil
}

// GetBaseDir returns the base directory for results
func (m *ResultManager) GetBaseDir() string {
	return m.baseDir
}

// GetRunDir returns the directory path for a specific run
func (m *ResultManager) GetRunDir(sessionID string) string {
	return filepath.Join(m.baseDir, sanitizeID(sessionID))
}

// SaveRun stores the corrected document, the metadata and the report of a
// finished session. req identifies the sources for the MD5 fields.
func (m *ResultManager) SaveRun(res *agent.Result, req agent.Request) (*RunInfo, error) {
	if res == nil || res.SessionID == "" {
		return nil, fmt.Errorf("result has no session id")
	}
	runDir := m.GetRunDir(res.SessionID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	info := &RunInfo{
		SessionID:     res.SessionID,
		CreatedAt:     m.now(),
		Status:        res.Status,
		StopReason:    res.StopReason,
		IsComplete:    res.IsComplete,
		AnalysisPath:  req.Analysis.Path,
		ReferencePath: req.Reference.Path,
		AnalysisMD5:   ContentMD5(res.OriginalContent),
		ReferenceMD5:  sourceMD5(req.Reference),
		CorrectedMD5:  ContentMD5(res.CorrectedContent),
		Corrections:   len(res.CorrectionsApplied),
		ToolCalls:     res.ToolCallCount,
		Messages:      res.MessageCount,
		Changed:       res.Changed(),
	}
	if req.Analysis.Text != "" {
		info.AnalysisPath = ""
	}
	if req.Reference.Text != "" {
		info.ReferencePath = ""
	}

	if err := os.WriteFile(filepath.Join(runDir, correctedFile), []byte(res.CorrectedContent), 0644); err != nil {
		return nil, fmt.Errorf("failed to write corrected document: %w", err)
	}

	report := Report{
		Run:    *info,
		Diff:   diff.Count(diff.Lines(res.OriginalContent, res.CorrectedContent)),
		Result: res,
	}
	data, err := yaml.Marshal(&report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, reportFile), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	if err := m.SaveRunInfo(info); err != nil {
		return nil, err
	}
	logger.Info("correction run saved",
		logger.String("session", info.SessionID),
		logger.String("dir", runDir))
	return info, nil
}

// sourceMD5 hashes inline text, or the file behind path
func sourceMD5(src agent.Source) string {
	if src.Text != "" || src.Path == "" {
		return ContentMD5(src.Text)
	}
	sum, err := CalculateFileMD5(src.Path)
	if err != nil {
		logger.Warn("failed to hash source file", logger.String("path", src.Path), logger.Err(err))
		return ""
	}
	return sum
}

// SaveRunInfo saves run metadata to the run's directory
func (m *ResultManager) SaveRunInfo(info *RunInfo) error {
	runDir := m.GetRunDir(info.SessionID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, metadataFile), data, 0644)
}

// LoadRunInfo loads run metadata from the run's directory
func (m *ResultManager) LoadRunInfo(sessionID string) (*RunInfo, error) {
	data, err := os.ReadFile(filepath.Join(m.GetRunDir(sessionID), metadataFile))
	if err != nil {
		return nil, err
	}

	var info RunInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LoadReport loads report.yaml of a run
func (m *ResultManager) LoadReport(sessionID string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(m.GetRunDir(sessionID), reportFile))
	if err != nil {
		return nil, err
	}

	var report Report
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// LoadCorrected returns the corrected document of a run
func (m *ResultManager) LoadCorrected(sessionID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(m.GetRunDir(sessionID), correctedFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListRuns returns all saved runs, newest first
func (m *ResultManager) ListRuns() ([]*RunInfo, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*RunInfo{}, nil
		}
		return nil, err
	}

	runs := []*RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := m.LoadRunInfo(entry.Name())
		if err != nil {
			continue // 跳过没有元数据或元数据损坏的目录
		}
		runs = append(runs, info)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// DeleteRun deletes a run and all its associated files
func (m *ResultManager) DeleteRun(sessionID string) error {
	return os.RemoveAll(m.GetRunDir(sessionID))
}

// RunExists checks if a run with the given session ID exists
func (m *ResultManager) RunExists(sessionID string) bool {
	_, err := os.Stat(filepath.Join(m.GetRunDir(sessionID), metadataFile))
	return err == nil
}

// FindByAnalysisMD5 returns the runs made on an analysis document with the
// given MD5, newest first
func (m *ResultManager) FindByAnalysisMD5(md5Hash string) ([]*RunInfo, error) {
	runs, err := m.ListRuns()
	if err != nil {
		return nil, err
	}

	var found []*RunInfo
	for _, run := range runs {
		if run.AnalysisMD5 == md5Hash {
			found = append(found, run)
		}
	}
	return found, nil
}

// sanitizeID makes a session ID safe for use as a directory name
func sanitizeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(strings.TrimSpace(id))
}

// CalculateFileMD5 calculates the MD5 hash of a file
func CalculateFileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ContentMD5 calculates the MD5 hash of a string
func ContentMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
