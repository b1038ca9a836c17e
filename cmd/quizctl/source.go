package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
)

type sourceFlags struct {
	file    string
	youtube string
	topic   string
	apiKey  string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "PDF or .txt file to read")
	cmd.Flags().StringVarP(&f.youtube, "youtube", "y", "", "YouTube video URL")
	cmd.Flags().StringVarP(&f.topic, "topic", "t", "", "topic to write a brief about")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "provider API key (defaults to the configured server keys)")
}

// request applies the same precedence as the HTTP form: file, then YouTube,
// then topic.
func (f *sourceFlags) request() (models.SourceRequest, error) {
	req := models.SourceRequest{YouTubeURL: f.youtube, Topic: f.topic}
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return req, fmt.Errorf("failed to read %s: %w", f.file, err)
		}
		req.FileName = filepath.Base(f.file)
		req.FileData = data
	}
	if req.Kind() == models.SourceNone {
		return req, services.ErrNoSource
	}
	return req, nil
}

func newExtractCommand() *cobra.Command {
	var flags sourceFlags

	command := &cobra.Command{
		Use:   "extract",
		Short: "Print the text a source resolves to",
		Example: `  quizctl extract --file lecture.pdf
  quizctl extract --youtube https://youtu.be/dQw4w9WgXcQ`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request()
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.log.Sync()

			doc, err := a.pipeline.Extract(cmd.Context(), flags.apiKey, req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "# %s (%s, %d chars)\n", doc.Subject(), doc.Kind, len(doc.Text))
			fmt.Fprintln(cmd.OutOrStdout(), doc.Text)
			return nil
		},
	}

	flags.register(command)
	return command
}
