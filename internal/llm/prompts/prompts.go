package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/proctor/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

var (
	loadOnce      sync.Once
	loadErr       error
	vivaTemplate  *template.Template
	styleTemplate *template.Template
)

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

// VivaEvent is one suspicious event shown to the question generator.
type VivaEvent struct {
	Type        model.EventType
	Confidence  float64
	Description string
}

// VivaData holds template data for viva question generation.
type VivaData struct {
	Title        string
	Description  string
	Questions    []model.ExamQuestion
	Events       []VivaEvent
	MaxQuestions int
}

// StyleAnswer is one free-text answer submitted for style analysis.
type StyleAnswer struct {
	QuestionID string
	Text       string
}

// StyleData holds template data for writing style analysis.
type StyleData struct {
	Answers []StyleAnswer
}

// Load parses the embedded templates once.
func Load() error {
	return load(templateFS)
}

func load(fsys fs.FS) error {
	loadOnce.Do(func() {
		vivaTemplate, loadErr = parse(fsys, "templates/viva.tmpl")
		if loadErr != nil {
			return
		}
		styleTemplate, loadErr = parse(fsys, "templates/style.tmpl")
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildVivaPrompt builds the question generation prompt for an exam and the
// session's recent suspicious events.
func BuildVivaPrompt(exam model.Exam, events []model.ScoredEvent, maxQuestions int) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	data := VivaData{
		Title:        exam.Title,
		Description:  exam.Description,
		Questions:    exam.Questions,
		MaxQuestions: maxQuestions,
	}
	for _, e := range events {
		data.Events = append(data.Events, VivaEvent{
			Type:        e.Type,
			Confidence:  e.ConfidenceScore,
			Description: e.Description,
		})
	}
	return execute(vivaTemplate, data)
}

// BuildStylePrompt builds the writing style prompt. Answers are ordered by
// question id and sanitized so they cannot close the surrounding blocks.
func BuildStylePrompt(answers map[string]string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var data StyleData
	for _, id := range ids {
		data.Answers = append(data.Answers, StyleAnswer{QuestionID: id, Text: sanitizeAnswer(answers[id])})
	}
	return execute(styleTemplate, data)
}

func execute(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		return "", errors.New("templates not initialized")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
