// Package types defines core data types and enums for the formula corrector.
package types

// Config 应用配置
type Config struct {
	OpenAIAPIKey   string `json:"openai_api_key"`
	OpenAIBaseURL  string `json:"openai_base_url"` // OpenAI 兼容 API 的 Base URL
	OpenAIModel    string `json:"openai_model"`
	EmbeddingModel string `json:"embedding_model"` // 仅在 similarity_backend=embedding 时使用

	// 纠错循环预算
	MaxToolCalls int `json:"max_tool_calls" validate:"gte=1"`
	MaxMessages  int `json:"max_messages" validate:"gte=2"`

	// 参考文档索引
	ChunkSize         int    `json:"chunk_size" validate:"gte=1"`
	ChunkOverlap      int    `json:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	TopK              int    `json:"top_k" validate:"gte=1"`
	SimilarityBackend string `json:"similarity_backend" validate:"oneof=lexical embedding none"`

	// 完成判定
	CompletionPhrases    []string `json:"completion_phrases,omitempty"`
	StructuredCompletion bool     `json:"structured_completion"` // 是否暴露 finish_correction 工具

	ResultsDirectory string `json:"results_directory"`
	LogFile          string `json:"log_file"`
	LogLevel         string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrAPICall      ErrorCode = "API_CALL_ERROR"
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrExtract      ErrorCode = "EXTRACT_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}
