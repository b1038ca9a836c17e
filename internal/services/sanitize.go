package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"quizmaster-backend/internal/models"
)

const defaultExplanation = "No explanation provided."

var (
	fencePattern         = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	optionLabelPattern   = regexp.MustCompile(`^\(?([A-Za-z])[\)\.:]\s*`)
	letterAnswerPattern  = regexp.MustCompile(`^\(?([A-Za-z])\)?(?:[\.:]|\s*$|\)\s+\S)`)
)

var trueFalseOptions = []string{"True", "False"}

// ParseResult is the outcome of repairing one completion.
type ParseResult struct {
	Questions []models.Question
	Dropped   int
	Warnings  []string
}

// ParseQuestions repairs a raw completion and converts it into typed
// questions for the requested options. It fails only when no JSON can be
// recovered at all; individual unusable items are dropped.
func ParseQuestions(raw string, opts models.QuizOptions) (*ParseResult, error) {
	opts = opts.Normalize()

	candidates := cleanCompletion(raw)
	if len(candidates) == 0 {
		return nil, ErrMalformedOutput
	}

	payload, body, err := decodeCandidates(candidates)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	res := &ParseResult{}
	res.Warnings = append(res.Warnings, validateQuestionPayload(body)...)

	items := findQuestionList(payload)
	seen := make(map[string]bool)
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			res.Dropped++
			continue
		}

		q, ok := normalizeQuestion(obj, opts.Type)
		if !ok {
			res.Dropped++
			continue
		}

		key := foldKey(q.Question)
		if seen[key] {
			res.Dropped++
			continue
		}
		seen[key] = true

		res.Questions = append(res.Questions, q)
	}

	if len(res.Questions) > opts.Amount {
		res.Questions = res.Questions[:opts.Amount]
	}
	if res.Dropped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d unusable question(s) were discarded", res.Dropped))
	}
	if n := len(res.Questions); n > 0 && n < opts.Amount {
		res.Warnings = append(res.Warnings, fmt.Sprintf("only %d of %d requested questions were generated", n, opts.Amount))
	}

	return res, nil
}

// cleanCompletion strips fences and chatter around the JSON body and
// returns the spans worth decoding, in order. A bare array comes first when
// it opens before any object; the object span is always kept as a fallback
// so a stray bracket in the chatter cannot hide it.
func cleanCompletion(raw string) []string {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))

	if m := fencePattern.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	} else {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	var candidates []string
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(s, "]"); end > arrStart {
			candidates = append(candidates, strings.TrimSpace(s[arrStart:end+1]))
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(s, "}"); end > objStart {
			candidates = append(candidates, strings.TrimSpace(s[objStart:end+1]))
		}
	}
	return candidates
}

// decodeCandidates returns the first candidate that decodes to a question
// list, or else the first that decodes at all.
func decodeCandidates(candidates []string) (interface{}, []byte, error) {
	var (
		payload  interface{}
		body     []byte
		firstErr error
	)
	for _, candidate := range candidates {
		v, b, err := decodeLenient(candidate)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(findQuestionList(v)) > 0 {
			return v, b, nil
		}
		if body == nil {
			payload, body = v, b
		}
	}
	if body != nil {
		return payload, body, nil
	}
	return nil, nil, firstErr
}

// decodeLenient decodes JSON, retrying once with trailing commas removed.
// It returns the decoded value and the bytes that decoded.
func decodeLenient(s string) (interface{}, []byte, error) {
	body := []byte(s)
	v, err := decodeJSON(body)
	if err == nil {
		return v, body, nil
	}

	repaired := []byte(trailingCommaPattern.ReplaceAllString(s, "$1"))
	v, err2 := decodeJSON(repaired)
	if err2 != nil {
		return nil, nil, err
	}
	return v, repaired, nil
}

func decodeJSON(b []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// findQuestionList locates the question array: the payload itself, a
// "questions" field, or the first field holding an array of objects.
func findQuestionList(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		for k, val := range t {
			if strings.EqualFold(k, "questions") {
				if arr, ok := val.([]interface{}); ok {
					return arr
				}
			}
		}

		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if arr, ok := t[k].([]interface{}); ok && len(arr) > 0 {
				if _, isObj := arr[0].(map[string]interface{}); isObj {
					return arr
				}
			}
		}
		for _, k := range keys {
			if nested, ok := t[k].(map[string]interface{}); ok {
				if arr := findQuestionList(nested); len(arr) > 0 {
					return arr
				}
			}
		}

		// A single question object.
		if firstString(t, "question", "prompt") != "" {
			return []interface{}{t}
		}
	}
	return nil
}

func normalizeQuestion(m map[string]interface{}, requested models.QuizType) (models.Question, bool) {
	q := models.Question{
		Question: strings.TrimSpace(firstString(m, "question", "prompt", "text", "q")),
	}
	if q.Question == "" {
		return q, false
	}

	options := readOptions(m)
	answer, answerIndex := readAnswer(m)

	qt, known := mapQuestionType(firstString(m, "type", "question_type", "questionType"))
	if !known {
		qt = inferType(requested, options)
	}

	switch qt {
	case models.QuizTypeFIB:
		if answer == "" && answerIndex >= 0 && answerIndex < len(options) {
			answer = options[answerIndex]
		}
		q.Options = []string{}
		q.Answer = strings.TrimSpace(answer)
		if q.Answer == "" {
			return q, false
		}

	case models.QuizTypeTF:
		resolved, ok := resolveTrueFalse(answer, answerIndex, options)
		if !ok {
			return q, false
		}
		q.Options = append([]string(nil), trueFalseOptions...)
		q.Answer = resolved

	default:
		options = dedupeOptions(options)
		if len(options) == 0 {
			resolved, ok := resolveTrueFalse(answer, answerIndex, nil)
			if !ok {
				return q, false
			}
			qt = models.QuizTypeTF
			q.Options = append([]string(nil), trueFalseOptions...)
			q.Answer = resolved
			break
		}
		resolved, ok := resolveChoice(answer, answerIndex, options)
		if !ok {
			return q, false
		}
		qt = models.QuizTypeMCQ
		q.Options = options
		q.Answer = resolved
	}

	q.Type = qt
	q.Explanation = strings.TrimSpace(firstString(m, "explanation", "reason", "rationale"))
	if q.Explanation == "" {
		q.Explanation = defaultExplanation
	}
	q.SimpleExplanation = strings.TrimSpace(firstString(m, "simple_explanation", "simpleExplanation", "eli5", "simple"))
	if q.SimpleExplanation == "" {
		q.SimpleExplanation = q.Explanation
	}
	return q, true
}

func mapQuestionType(raw string) (models.QuizType, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	switch s {
	case "mcq", "multiple choice", "multiplechoice", "mc", "choice", "single choice":
		return models.QuizTypeMCQ, true
	case "tf", "true false", "truefalse", "true or false", "boolean", "t f":
		return models.QuizTypeTF, true
	case "fib", "fill in the blank", "fill in the blanks", "fill in blank", "fill blank", "blank", "cloze", "fill":
		return models.QuizTypeFIB, true
	}
	return "", false
}

// inferType decides the type of an item that carries no recognisable one.
func inferType(requested models.QuizType, options []string) models.QuizType {
	if requested != models.QuizTypeMix && requested != "" {
		return requested
	}
	switch {
	case len(options) == 0:
		return models.QuizTypeFIB
	case isTrueFalseSet(options):
		return models.QuizTypeTF
	}
	return models.QuizTypeMCQ
}

func isTrueFalseSet(options []string) bool {
	if len(options) != 2 {
		return false
	}
	a, aok := parseBool(options[0])
	b, bok := parseBool(options[1])
	return aok && bok && a != b
}

func readOptions(m map[string]interface{}) []string {
	var raw interface{}
	for _, k := range []string{"options", "choices", "answers"} {
		if v, ok := m[k]; ok && v != nil {
			raw = v
			break
		}
	}

	var out []string
	switch t := raw.(type) {
	case []interface{}:
		for _, v := range t {
			if s := strings.TrimSpace(scalarString(v)); s != "" {
				out = append(out, s)
			}
		}
	case map[string]interface{}:
		// {"A": "...", "B": "..."}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := strings.TrimSpace(scalarString(t[k])); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(t, "|") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// readAnswer returns the answer text and, when the answer is numeric, the
// zero-based option index (or -1).
func readAnswer(m map[string]interface{}) (string, int) {
	index := -1
	for _, k := range []string{"correct_index", "correctIndex", "answer_index", "answerIndex"} {
		if v, ok := m[k]; ok {
			if n, ok := asInt(v); ok {
				index = n
				break
			}
		}
	}

	for _, k := range []string{"answer", "correct_answer", "correctAnswer", "correct"} {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			if t {
				return "True", index
			}
			return "False", index
		case json.Number:
			if n, ok := asInt(t); ok && index < 0 {
				index = n
			}
			return t.String(), index
		case []interface{}:
			if len(t) > 0 {
				return strings.TrimSpace(scalarString(t[0])), index
			}
		default:
			if s := strings.TrimSpace(scalarString(t)); s != "" {
				return s, index
			}
		}
	}
	return "", index
}

func resolveTrueFalse(answer string, index int, options []string) (string, bool) {
	if b, ok := parseBool(answer); ok {
		return boolLabel(b), true
	}
	if len(options) > 0 {
		if choice, ok := resolveChoice(answer, index, options); ok {
			if b, ok := parseBool(choice); ok {
				return boolLabel(b), true
			}
		}
	} else if index == 0 || index == 1 {
		return trueFalseOptions[index], true
	}
	return "", false
}

// resolveChoice maps an answer onto one of the options: exact text, then
// case-insensitive text, then a letter label, then an index.
func resolveChoice(answer string, index int, options []string) (string, bool) {
	a := strings.TrimSpace(answer)

	if a != "" {
		for _, opt := range options {
			if opt == a {
				return opt, true
			}
		}
		for _, opt := range options {
			if foldKey(opt) == foldKey(a) {
				return opt, true
			}
		}
		stripped := foldKey(stripOptionLabel(a))
		for _, opt := range options {
			if foldKey(stripOptionLabel(opt)) == stripped && stripped != "" {
				return opt, true
			}
		}
		if m := letterAnswerPattern.FindStringSubmatch(a); len(m) > 1 {
			i := int(strings.ToUpper(m[1])[0] - 'A')
			if i >= 0 && i < len(options) {
				return options[i], true
			}
		}
		if n, err := strconv.Atoi(a); err == nil && index < 0 {
			index = n
		}
	}

	if index >= 0 && index < len(options) {
		return options[index], true
	}
	return "", false
}

func dedupeOptions(options []string) []string {
	seen := make(map[string]bool, len(options))
	out := make([]string, 0, len(options))
	for _, opt := range options {
		k := foldKey(opt)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, opt)
	}
	return out
}

func stripOptionLabel(s string) string {
	return strings.TrimSpace(optionLabelPattern.ReplaceAllString(strings.TrimSpace(s), ""))
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), ".!")) {
	case "true", "t", "yes", "correct":
		return true, true
	case "false", "f", "no", "incorrect":
		return false, true
	}
	return false, false
}

func boolLabel(b bool) string {
	if b {
		return trueFalseOptions[0]
	}
	return trueFalseOptions[1]
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := scalarString(v); strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return boolLabel(t)
	}
	return ""
}

func asInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func foldKey(s string) string {
	return strings.Join(strings.Fields(foldCase(s)), " ")
}
