package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizmaster-backend/internal/config"
	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/services"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "quizctl",
		Short:         "Generate quizzes and manage the QuizMaster database from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newGenerateCommand())
	root.AddCommand(newExtractCommand())
	root.AddCommand(newMigrateCommand())

	return root
}

// app holds what the source and generation commands share. No Redis is
// involved: the CLI always runs inline.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	pipeline *services.QuizPipeline
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	prompts := services.MustDefaultPrompts()
	if cfg.PromptsPath != "" {
		if prompts, err = services.LoadPromptCatalog(cfg.PromptsPath); err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
	}

	sources := services.NewSourceService(
		services.NewFileExtractService(),
		services.NewYouTubeService(log),
		prompts,
		nil,
		0,
		log,
	)
	pipeline := services.NewQuizPipeline(
		services.NewLLMFactory(services.LLMSettingsFromConfig(cfg), log),
		sources,
		services.NewQuizGenerator(prompts, cfg.MaxSourceChars, log),
		log,
	)

	return &app{cfg: cfg, log: log, pipeline: pipeline}, nil
}
