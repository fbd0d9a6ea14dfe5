package ai

import (
	"context"
	"strings"
)

const demoReply = "StudySync AI is running in demo mode because no AI provider key is configured. " +
	"Set GROQ_API_KEY (or GEMINI_API_KEY with AI_PROVIDER=gemini) to get real answers. " +
	"Meanwhile, a good study habit: explain the topic in your own words, then check what you missed."

// DemoProvider returns fixed guidance text. It stands in for a real provider
// when no credentials are configured.
type DemoProvider struct{}

func NewDemoProvider() *DemoProvider {
	return &DemoProvider{}
}

func (DemoProvider) Name() string {
	return "demo"
}

func (DemoProvider) Complete(context.Context, CompletionRequest) (string, error) {
	return demoReply, nil
}

// Stream emits the reply word by word to mimic a streamed response.
func (DemoProvider) Stream(ctx context.Context, _ CompletionRequest, emit func(string) error) error {
	words := strings.Fields(demoReply)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i < len(words)-1 {
			w += " "
		}
		if err := emit(w); err != nil {
			return err
		}
	}
	return nil
}
