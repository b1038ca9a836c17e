package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizmaster-backend/internal/models"
	"quizmaster-backend/internal/services"
)

func TestSourceFlags_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Mitochondria make ATP."), 0o600))

	flags := sourceFlags{file: path, youtube: "https://youtu.be/dQw4w9WgXcQ", topic: "Cells"}
	req, err := flags.request()
	require.NoError(t, err)
	assert.Equal(t, models.SourceText, req.Kind())
	assert.Equal(t, "notes.txt", req.FileName)

	flags = sourceFlags{youtube: "https://youtu.be/dQw4w9WgXcQ", topic: "Cells"}
	req, err = flags.request()
	require.NoError(t, err)
	assert.Equal(t, models.SourceYouTube, req.Kind())

	_, err = (&sourceFlags{}).request()
	assert.ErrorIs(t, err, services.ErrNoSource)

	_, err = (&sourceFlags{file: filepath.Join(dir, "missing.pdf")}).request()
	assert.Error(t, err)
}

func TestParseQuizOptions(t *testing.T) {
	opts, err := parseQuizOptions("TF", "medium", 40, true)
	require.NoError(t, err)
	assert.Equal(t, models.QuizOptions{
		Type:       models.QuizTypeTF,
		Difficulty: models.DifficultyNormal,
		Amount:     models.MaxQuestionCount,
		MockMode:   true,
	}, opts)

	_, err = parseQuizOptions("essay", "", 5, false)
	assert.Error(t, err)

	_, err = parseQuizOptions("mcq", "impossible", 5, false)
	assert.Error(t, err)
}

func TestGenerateCommand_RequiresSource(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"generate", "--type", "mcq"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	assert.ErrorIs(t, err, services.ErrNoSource)
}

func TestMigrateCommand_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quizmaster.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:"+dbPath)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs([]string{"migrate"})
	root.SetOut(&out)

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "migrations applied")

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)

	// Running again is a no-op.
	root = newRootCommand()
	root.SetArgs([]string{"migrate"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())
}
