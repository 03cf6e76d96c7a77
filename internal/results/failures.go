package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const failuresFile = "failures.json"

// FailureStage 失败阶段枚举
type FailureStage string

const (
	StageLoad       FailureStage = "load"       // 读取分析或参考文档失败
	StageAborted    FailureStage = "aborted"    // 会话被取消
	StageIncomplete FailureStage = "incomplete" // 预算耗尽，模型未声明完成
)

// FailureRecord 失败记录
type FailureRecord struct {
	ID         string       `json:"id"`          // 分析文档路径，内联文本时为 MD5
	SessionID  string       `json:"session_id"`  // 会话 ID（加载失败时为空）
	Input      string       `json:"input"`       // 原始输入
	Stage      FailureStage `json:"stage"`       // 失败阶段
	ErrorMsg   string       `json:"error_msg"`   // 错误信息
	Timestamp  time.Time    `json:"timestamp"`   // 发生时间
	RetryCount int          `json:"retry_count"` // 重试次数
	LastRetry  time.Time    `json:"last_retry"`  // 最后重试时间
}

// FailureLog tracks analysis documents whose last correction did not
// complete. A later complete run removes the record.
type FailureLog struct {
	baseDir  string
	mu       sync.RWMutex
	failures map[string]*FailureRecord // key: ID
	now      func() time.Time
}

// NewFailureLog 创建失败记录管理器
func NewFailureLog(baseDir string) (*FailureLog, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create failures directory: %w", err)
	}

	fl := &FailureLog{
		baseDir:  baseDir,
		failures: make(map[string]*FailureRecord),
		now:      time.Now,
	}
	if err := fl.load(); err != nil {
		return nil, err
	}
	return fl, nil
}

// RecordFailure 记录失败；已存在的记录视为一次重试
func (fl *FailureLog) RecordFailure(rec FailureRecord) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	rec.Timestamp = fl.now()
	if existing, ok := fl.failures[rec.ID]; ok {
		rec.RetryCount = existing.RetryCount + 1
		rec.LastRetry = rec.Timestamp
	}
	fl.failures[rec.ID] = &rec
	return fl.save()
}

// RemoveFailure 移除失败记录（纠错成功后）
func (fl *FailureLog) RemoveFailure(id string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if _, ok := fl.failures[id]; !ok {
		return nil
	}
	delete(fl.failures, id)
	return fl.save()
}

// GetFailure 获取指定记录
func (fl *FailureLog) GetFailure(id string) (*FailureRecord, bool) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	record, ok := fl.failures[id]
	if !ok {
		return nil, false
	}
	recordCopy := *record
	return &recordCopy, true
}

// ListFailures 列出所有失败记录，最新的在前
func (fl *FailureLog) ListFailures() []*FailureRecord {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	records := make([]*FailureRecord, 0, len(fl.failures))
	for _, record := range fl.failures {
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records
}

// ClearAll 清空所有失败记录
func (fl *FailureLog) ClearAll() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	fl.failures = make(map[string]*FailureRecord)
	return fl.save()
}

// load 从文件加载失败记录
func (fl *FailureLog) load() error {
	data, err := os.ReadFile(filepath.Join(fl.baseDir, failuresFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read failures file: %w", err)
	}

	var records []*FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal failures: %w", err)
	}
	for _, record := range records {
		fl.failures[record.ID] = record
	}
	return nil
}

// save 保存失败记录到文件
func (fl *FailureLog) save() error {
	records := make([]*FailureRecord, 0, len(fl.failures))
	for _, record := range fl.failures {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}
	if err := os.WriteFile(filepath.Join(fl.baseDir, failuresFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write failures file: %w", err)
	}
	return nil
}
