package llm

import (
	"context"
	"fmt"
)

// Describe asks a vision-capable model a question about one image.
func Describe(ctx context.Context, client Client, model, question string, img Image) (string, error) {
	if question == "" {
		question = "Describe what you see in this image in two or three sentences."
	}
	resp, err := client.Chat(ctx, ChatRequest{
		Model: model,
		Messages: []Message{{
			Role:    RoleUser,
			Content: question,
			Images:  []Image{img},
		}},
		Sampling: Sampling{Temperature: 0.2, MaxTokens: 300},
	})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrNoCandidates
	}
	return text, nil
}
