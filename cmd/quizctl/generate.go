package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizmaster-backend/internal/models"
)

type generateOutput struct {
	Subject          string             `json:"subject"`
	Source           models.SourceKind  `json:"source"`
	Options          models.QuizOptions `json:"options"`
	TimeLimitSeconds int                `json:"time_limit_seconds"`
	Questions        []models.Question  `json:"questions"`
	Warnings         []string           `json:"warnings,omitempty"`
}

func parseQuizOptions(quizType, difficulty string, amount int, mock bool) (models.QuizOptions, error) {
	t, ok := models.ParseQuizType(quizType)
	if !ok {
		return models.QuizOptions{}, fmt.Errorf("invalid --type %q (want mcq, tf, fib or mix)", quizType)
	}
	d, ok := models.ParseDifficulty(difficulty)
	if !ok {
		return models.QuizOptions{}, fmt.Errorf("invalid --difficulty %q (want easy, normal or hard)", difficulty)
	}
	return models.QuizOptions{Type: t, Difficulty: d, Amount: amount, MockMode: mock}.Normalize(), nil
}

func newGenerateCommand() *cobra.Command {
	var (
		flags      sourceFlags
		quizType   string
		difficulty string
		amount     int
		mock       bool
	)

	command := &cobra.Command{
		Use:   "generate",
		Short: "Generate a quiz and print it as JSON",
		Example: `  quizctl generate --file notes.pdf --type mcq --amount 10
  quizctl generate --topic "Photosynthesis" --difficulty hard --mock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}
			opts, err := parseQuizOptions(quizType, difficulty, amount, mock)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			if err := a.pipeline.CheckKey(flags.apiKey); err != nil {
				return err
			}

			progress := func(step int, name string) {
				a.log.Info(name, zap.Int("step", step))
			}
			result, err := a.pipeline.Run(cmd.Context(), flags.apiKey, req, nil, opts, progress)
			if err != nil {
				return err
			}

			out := generateOutput{
				Subject:          result.Subject,
				Source:           result.Document.Kind,
				Options:          opts,
				TimeLimitSeconds: int(opts.TimeLimit(len(result.Questions)) / time.Second),
				Questions:        result.Questions,
				Warnings:         result.Warnings,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	flags.register(command)
	command.Flags().StringVar(&quizType, "type", "mix", "question type: mcq, tf, fib or mix")
	command.Flags().StringVar(&difficulty, "difficulty", "normal", "easy, normal or hard")
	command.Flags().IntVarP(&amount, "amount", "n", models.DefaultQuestionCount, "number of questions")
	command.Flags().BoolVar(&mock, "mock", false, "exam mode: include the time limit")

	return command
}
