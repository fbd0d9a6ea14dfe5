package model

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Mode     string        `json:"mode"`
}

// SummarizeRequest is the body of POST /api/v1/summarize.
type SummarizeRequest struct {
	Content string `json:"content" validate:"required"`
	Type    string `json:"type"`
}

// SummarizeResponse carries the generated summary.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// QuizRequest is the body of POST /api/v1/quiz.
type QuizRequest struct {
	Content      string `json:"content" validate:"required"`
	NumQuestions int    `json:"numQuestions"`
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation"`
}

// QuizResponse carries a generated quiz and an optional warning when the
// model output could not be used.
type QuizResponse struct {
	Quiz    []QuizQuestion `json:"quiz"`
	Warning string         `json:"warning,omitempty"`
}
