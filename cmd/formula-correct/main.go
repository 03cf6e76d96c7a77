// formula-correct repairs LaTeX formulas in a generated markdown analysis
// against an OCR reference document.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/spf13/cobra"

	"formula-corrector/internal/agent"
	"formula-corrector/internal/config"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/reference"
	"formula-corrector/internal/types"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "formula-correct",
		Short: "Correct LaTeX formulas in an analysis document against an OCR reference",
		Long: `formula-correct locates $$-delimited LaTeX formulas in a generated analysis
document, looks up their rendering in an OCR reference document and lets a
language model apply safe, line-addressed edits to repair them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file path (default ~/.config/formula-corrector/"+config.DefaultConfigFileName+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(
		newCorrectCmd(),
		newExtractCmd(),
		newQueryCmd(),
		newEditCmd(),
		newLinesCmd(),
		newValidateCmd(),
		newRunsCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// loadSettings loads the configuration and initializes the logger.
func loadSettings(cmd *cobra.Command) (*config.ConfigManager, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	manager, err := config.NewConfigManager(path)
	if err != nil {
		return nil, err
	}
	if err := manager.Load(); err != nil {
		return nil, err
	}

	cfg := manager.GetConfig()
	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.LogLevel)
	logCfg.LogFilePath = cfg.LogFile
	if logCfg.LogFilePath == "" {
		logCfg.LogFilePath = filepath.Join(filepath.Dir(manager.GetConfigPath()), "formula-corrector.log")
	}
	if verbose {
		logCfg.Level = logger.LevelDebug
		logCfg.EnableConsole = true
	}
	if err := logger.Init(logCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return manager, nil
}

// indexOptions builds the reference index options from the configuration.
func indexOptions(cfg *types.Config, apiKey, baseURL string) ([]reference.Option, error) {
	var embedder embedding.Embedder
	if cfg.SimilarityBackend == reference.BackendEmbedding {
		if apiKey == "" {
			return nil, types.NewAppError(types.ErrConfig, "embedding backend requires an API key", nil)
		}
		embedder = reference.NewOpenAIEmbedder(apiKey, baseURL, cfg.EmbeddingModel)
	}

	scorer, err := reference.NewScorer(cfg.SimilarityBackend, embedder)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "invalid similarity backend", err)
	}

	return []reference.Option{
		reference.WithChunking(cfg.ChunkSize, cfg.ChunkOverlap),
		reference.WithTopK(cfg.TopK),
		reference.WithScorer(scorer),
	}, nil
}

// agentConfig builds the session configuration from the settings.
func agentConfig(manager *config.ConfigManager) (agent.Config, error) {
	cfg := manager.GetConfig()
	opts, err := indexOptions(cfg, manager.GetAPIKey(), manager.GetBaseURL())
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		MaxToolCalls:         cfg.MaxToolCalls,
		MaxMessages:          cfg.MaxMessages,
		CompletionPhrases:    cfg.CompletionPhrases,
		StructuredCompletion: cfg.StructuredCompletion,
		IndexOptions:         opts,
	}, nil
}
