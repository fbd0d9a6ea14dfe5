package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/ai"
	"github.com/studysync/studysync-go/internal/logging"
	"github.com/studysync/studysync-go/internal/model"
)

const (
	ModeNormal   = "normal"
	ModeSocratic = "socratic"

	SummaryText  = "text"
	SummaryVoice = "voice"

	defaultQuizQuestions = 5
	maxQuizQuestions     = 20

	noExplanation = "No explanation provided."
	quizWarning   = "Quiz generation had issues. Please try with different content."
)

var (
	ErrMessagesRequired = errors.New("messages array is required")
	ErrContentRequired  = errors.New("content is required")
	errNoQuizArray      = errors.New("no JSON array found")
)

const (
	plainTextRule = "Write plain text only. Do not use markdown emphasis, asterisks or # headings; use simple dashes for lists."

	normalPrompt = "You are StudySync AI, a patient study assistant. Explain concepts clearly with short examples " +
		"and analogies, split hard topics into steps and check that the student understands rather than memorises. " + plainTextRule

	socraticPrompt = "You are StudySync AI acting as a Socratic tutor. Do not hand out answers to conceptual questions. " +
		"Reply with one or two guiding questions that lead the student toward the answer, build on what they say, " +
		"offer hints as questions when they are stuck and acknowledge progress. " + plainTextRule

	textSummaryPrompt = "Summarise the student's notes into a study guide: a one-paragraph overview, the key concepts " +
		"with short definitions, and the points most likely to be tested."

	voiceSummaryPrompt = "The input is a raw voice-note transcript. Clean it up into organised study notes: fix obvious " +
		"transcription errors, group related ideas under short headings, list key points and end with suggested next steps."

	quizSystemPrompt = "You generate quizzes as JSON. Output only a JSON array, no prose and no code fences."
)

var demoQuiz = []model.QuizQuestion{
	{
		Question:    "What does StudySync AI need before it can write quizzes from your notes?",
		Options:     []string{"A paid plan", "An AI provider API key", "A desktop app", "Nothing at all"},
		Correct:     1,
		Explanation: "Quiz generation calls a language model, so GROQ_API_KEY or GEMINI_API_KEY must be configured.",
	},
	{
		Question:    "Where is the AI provider key configured?",
		Options:     []string{"In the browser", "In an email", "In the server environment", "In the quiz itself"},
		Correct:     2,
		Explanation: "Keys are read from the server environment or its .env file and are never sent to clients.",
	},
}

var fallbackQuiz = []model.QuizQuestion{
	{
		Question: "The quiz couldn't be generated. What should you try?",
		Options: []string{
			"Use more detailed content",
			"Try with different material",
			"Check your internet connection",
			"All of the above",
		},
		Correct:     3,
		Explanation: "When generation fails, more detailed or different content usually helps.",
	},
}

// AIService runs the chat, summary and quiz features and records usage.
type AIService struct {
	provider ai.Provider
	stats    *StatsService
}

func NewAIService(provider ai.Provider, stats *StatsService) *AIService {
	return &AIService{provider: provider, stats: stats}
}

// Chat streams an answer to messages through emit. userID may be empty for
// anonymous callers. Starting a conversation counts towards the user's stats.
func (s *AIService) Chat(ctx context.Context, userID, mode string, messages []model.ChatMessage, emit func(string) error) error {
	if len(messages) == 0 {
		return ErrMessagesRequired
	}

	req := ai.CompletionRequest{
		System:      normalPrompt,
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   1000,
	}
	if mode == ModeSocratic {
		req.System = socraticPrompt
		req.Temperature = 0.8
	}
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		req.Messages = append(req.Messages, ai.Message{Role: m.Role, Content: m.Content})
	}
	if len(req.Messages) == 0 {
		return ErrMessagesRequired
	}

	if err := s.provider.Stream(ctx, req, emit); err != nil {
		return err
	}
	if len(messages) == 1 {
		s.record(ctx, userID, model.StatConversations)
	}
	return nil
}

// Summarize condenses notes (kind "text") or formats a voice transcript
// (kind "voice").
func (s *AIService) Summarize(ctx context.Context, userID, content, kind string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrContentRequired
	}

	system, stat := textSummaryPrompt, model.StatNotesUploaded
	if kind == SummaryVoice {
		system, stat = voiceSummaryPrompt, model.StatVoiceNotes
	}
	summary, err := s.provider.Complete(ctx, ai.CompletionRequest{
		System:      system + " " + plainTextRule,
		Messages:    []ai.Message{{Role: "user", Content: content}},
		Temperature: 0.5,
		TopP:        0.9,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", err
	}
	s.record(ctx, userID, stat)
	return summary, nil
}

// GenerateQuiz asks for n multiple-choice questions about content. Model
// output that cannot be used yields a fallback quiz and a warning.
func (s *AIService) GenerateQuiz(ctx context.Context, userID, content string, n int) (model.QuizResponse, error) {
	if strings.TrimSpace(content) == "" {
		return model.QuizResponse{}, ErrContentRequired
	}
	n = clampQuestions(n)

	if s.provider.Name() == "demo" {
		return model.QuizResponse{Quiz: demoQuiz}, nil
	}

	prompt := fmt.Sprintf("Write exactly %d multiple-choice questions that test understanding of the study content below. "+
		"Each question has exactly 4 plausible options and one correct answer.\n\n"+
		"Return a JSON array of objects with keys \"question\" (string), \"options\" (array of 4 strings), "+
		"\"correct\" (index 0-3) and \"explanation\" (string). Plain text only inside strings.\n\n"+
		"STUDY CONTENT:\n%s", n, content)

	raw, err := s.provider.Complete(ctx, ai.CompletionRequest{
		System:      quizSystemPrompt,
		Messages:    []ai.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		TopP:        0.9,
		MaxTokens:   3000,
	})
	if err != nil {
		return model.QuizResponse{}, err
	}

	quiz, err := ParseQuiz(raw)
	if err != nil {
		logging.FromContext(ctx).Warn("quiz output unusable", zap.Error(err), zap.Int("raw_len", len(raw)))
		return model.QuizResponse{Quiz: fallbackQuiz, Warning: quizWarning}, nil
	}
	s.record(ctx, userID, model.StatQuizzesTaken)
	return model.QuizResponse{Quiz: quiz}, nil
}

type rawQuestion struct {
	Question    string            `json:"question"`
	Options     []json.RawMessage `json:"options"`
	Correct     *float64          `json:"correct"`
	Explanation string            `json:"explanation"`
}

// ParseQuiz extracts a quiz from model output. Code fences and text around
// the outermost JSON array are ignored.
func ParseQuiz(raw string) ([]model.QuizQuestion, error) {
	text := strings.ReplaceAll(raw, "```json", "")
	text = strings.ReplaceAll(text, "```", "")

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil, errNoQuizArray
	}

	var items []rawQuestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decoding quiz: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("quiz is empty")
	}

	quiz := make([]model.QuizQuestion, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.Question) == "" || len(it.Options) != 4 {
			return nil, fmt.Errorf("invalid question format at index %d", i)
		}
		q := model.QuizQuestion{
			Question:    it.Question,
			Options:     make([]string, 4),
			Explanation: it.Explanation,
		}
		for j, opt := range it.Options {
			q.Options[j] = optionText(opt)
		}
		if it.Correct != nil {
			q.Correct = int(*it.Correct)
		}
		if q.Explanation == "" {
			q.Explanation = noExplanation
		}
		quiz = append(quiz, q)
	}
	return quiz, nil
}

// optionText renders an option as text whatever JSON type the model used.
func optionText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}

func clampQuestions(n int) int {
	switch {
	case n <= 0:
		return defaultQuizQuestions
	case n > maxQuizQuestions:
		return maxQuizQuestions
	default:
		return n
	}
}

// record bumps a usage counter for signed-in callers. Failures are logged
// and never fail the request.
func (s *AIService) record(ctx context.Context, userID, stat string) {
	if userID == "" || s.stats == nil {
		return
	}
	if err := s.stats.Increment(ctx, userID, map[string]int{stat: 1}); err != nil {
		logging.FromContext(ctx).Warn("updating stats failed",
			zap.String("user_id", userID), zap.String("stat", stat), zap.Error(err))
	}
}
