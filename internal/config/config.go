// Package config provides configuration management for the formula corrector.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"formula-corrector/internal/logger"
	"formula-corrector/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "formula-corrector-config.json"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// EnvOpenAIModel is the environment variable name for the chat model
	EnvOpenAIModel = "OPENAI_MODEL"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the default chat model
	DefaultModel = "gpt-4o"
	// DefaultEmbeddingModel is the default embedding model for the embedding backend
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultMaxToolCalls is the cumulative tool-call budget per session
	DefaultMaxToolCalls = 8
	// DefaultMaxMessages is the message-history budget per session
	DefaultMaxMessages = 20
	// DefaultChunkSize is the reference chunk size in characters
	DefaultChunkSize = 800
	// DefaultChunkOverlap is the overlap between neighbouring reference chunks
	DefaultChunkOverlap = 160
	// DefaultTopK is the number of reference chunks returned per query
	DefaultTopK = 5
	// DefaultSimilarityBackend is the reference similarity backend
	DefaultSimilarityBackend = "lexical"
	// DefaultLogLevel is the default log level
	DefaultLogLevel = "info"
)

var validate = validator.New()

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "formula-corrector", DefaultConfigFileName)
	}

	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     defaultConfig(),
	}, nil
}

// defaultConfig returns a Config with default values
func defaultConfig() *types.Config {
	return &types.Config{
		OpenAIBaseURL:     DefaultBaseURL,
		OpenAIModel:       DefaultModel,
		EmbeddingModel:    DefaultEmbeddingModel,
		MaxToolCalls:      DefaultMaxToolCalls,
		MaxMessages:       DefaultMaxMessages,
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
		TopK:              DefaultTopK,
		SimilarityBackend: DefaultSimilarityBackend,
		LogLevel:          DefaultLogLevel,
	}
}

// Load loads configuration from the config file.
// If the file doesn't exist, it uses default values. A .env file in the
// working directory is loaded first so that environment fallbacks see it.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", logger.Err(err))
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
			m.config = defaultConfig()
		} else {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
	} else {
		config := &types.Config{}
		if err := json.Unmarshal(data, config); err != nil {
			logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
			m.config = defaultConfig()
		} else {
			logger.Info("configuration loaded successfully",
				logger.String("path", m.configPath),
				logger.Int("apiKeyLength", len(config.OpenAIAPIKey)),
				logger.String("baseURL", config.OpenAIBaseURL),
				logger.String("model", config.OpenAIModel))
			m.config = config
		}
	}

	applyDefaults(m.config)

	if err := m.Validate(); err != nil {
		return err
	}
	return nil
}

// applyDefaults fills zero-valued fields
func applyDefaults(c *types.Config) {
	if c.OpenAIModel == "" {
		c.OpenAIModel = DefaultModel
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = DefaultBaseURL
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.MaxToolCalls == 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap == 0 && c.ChunkSize > DefaultChunkOverlap {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.TopK == 0 {
		c.TopK = DefaultTopK
	}
	if c.SimilarityBackend == "" {
		c.SimilarityBackend = DefaultSimilarityBackend
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the field constraints of the current configuration.
func (m *ConfigManager) Validate() error {
	if err := validate.Struct(m.GetConfig()); err != nil {
		logger.Warn("configuration failed validation", logger.Err(err))
		return types.NewAppError(types.ErrConfig, "invalid configuration", err)
	}
	return nil
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved successfully", logger.String("path", m.configPath))
	return nil
}

// GetAPIKey returns the OpenAI API key.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetAPIKey() string {
	if m.config != nil && m.config.OpenAIAPIKey != "" {
		return m.config.OpenAIAPIKey
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// SetAPIKey sets the OpenAI API key and saves the configuration.
func (m *ConfigManager) SetAPIKey(key string) error {
	logger.Info("setting API key")
	if m.config == nil {
		m.config = defaultConfig()
	}
	m.config.OpenAIAPIKey = key
	return m.Save()
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return defaultConfig()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetModel returns the chat model to use. OPENAI_MODEL overrides the default
// but not an explicitly configured model.
func (m *ConfigManager) GetModel() string {
	if m.config != nil && m.config.OpenAIModel != "" && m.config.OpenAIModel != DefaultModel {
		return m.config.OpenAIModel
	}
	if env := os.Getenv(EnvOpenAIModel); env != "" {
		return env
	}
	return DefaultModel
}

// GetBaseURL returns the OpenAI API base URL.
// It first checks the config file value, then falls back to the environment variable.
func (m *ConfigManager) GetBaseURL() string {
	if m.config != nil && m.config.OpenAIBaseURL != "" && m.config.OpenAIBaseURL != DefaultBaseURL {
		return m.config.OpenAIBaseURL
	}
	if envURL := os.Getenv(EnvOpenAIBaseURL); envURL != "" {
		return envURL
	}
	return DefaultBaseURL
}

// GetResultsDirectory returns the directory where correction runs are stored.
func (m *ConfigManager) GetResultsDirectory() string {
	if m.config != nil && m.config.ResultsDirectory != "" {
		return m.config.ResultsDirectory
	}
	return ""
}
