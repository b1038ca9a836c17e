package services

import "errors"

var (
	ErrAPIKeyRequired  = errors.New("an API key is required to generate a quiz")
	ErrRateLimited     = errors.New("Rate limit exceeded. Please wait 60 seconds and try again.")
	ErrInvalidAPIKey   = errors.New("the AI provider rejected the API key")
	ErrProviderFailure = errors.New("the AI provider failed to respond")
	ErrEmptyCompletion = errors.New("the AI provider returned an empty response")
	ErrMalformedOutput = errors.New("the AI response did not contain valid JSON")
	ErrNoQuestions     = errors.New("the AI response did not contain any usable questions")
	ErrNoSource        = errors.New("provide a file, a YouTube URL or a topic")
	ErrEmptySource     = errors.New("no text could be extracted from the source")
	ErrPDFParse        = errors.New("failed to read the PDF file")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrInvalidYouTube  = errors.New("invalid YouTube URL")
	ErrTranscript      = errors.New("Failed to fetch YouTube transcript. Ensure the video has captions.")
	ErrAttemptClosed   = errors.New("this attempt has already been submitted")
	ErrAlreadyAnswered = errors.New("this question has already been answered")
	ErrTimeExpired     = errors.New("time is up for this attempt")
	ErrInvalidQuestion = errors.New("question index is out of range")
	ErrEmptyAnswer     = errors.New("an answer is required")
	ErrQuizNotReady    = errors.New("quiz is not ready yet")
	ErrInvalidRating   = errors.New("rating must be between 1 (Again) and 4 (Easy)")
)

var publicErrors = []error{
	ErrAPIKeyRequired, ErrRateLimited, ErrInvalidAPIKey, ErrProviderFailure,
	ErrEmptyCompletion, ErrMalformedOutput, ErrNoQuestions, ErrNoSource,
	ErrEmptySource, ErrPDFParse, ErrUnsupportedFile, ErrInvalidYouTube,
	ErrTranscript, ErrAttemptClosed, ErrAlreadyAnswered, ErrTimeExpired,
	ErrInvalidQuestion, ErrEmptyAnswer, ErrQuizNotReady, ErrInvalidRating,
}

// PublicMessage returns the message of the first known error in err's chain,
// without the upstream detail wrapped around it.
func PublicMessage(err error) (string, bool) {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error(), true
		}
	}
	return "", false
}
