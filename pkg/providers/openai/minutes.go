package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/eternnoir/chunkscribe/pkg/providers"
)

const defaultChatModel = "gpt-4o-mini"

// DefaultMinutesPrompt is the system prompt used to turn a transcript into minutes
const DefaultMinutesPrompt = `You write meeting minutes from raw transcripts.
Produce detailed minutes in Markdown with these sections: Summary, Participants,
Discussion (grouped by topic), Decisions, and Action Items (owner and due date
when stated). Only use information present in the transcript. Write in the
language of the transcript.`

// WithMinutesPrompt replaces the minutes system prompt
func WithMinutesPrompt(prompt string) ProviderOption {
	return func(p *Provider) {
		if prompt != "" {
			p.minutesPrompt = prompt
		}
	}
}

// WriteMinutes asks the chat model for detailed minutes of transcript
func (p *Provider) WriteMinutes(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("openai: transcript is empty")
	}

	var minutes string
	_, err := providers.Retry(ctx, providerName, p.policy, func(ctx context.Context) error {
		ctx, cancel := p.attemptContext(ctx)
		defer cancel()

		completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(p.chatModel),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(p.minutesPrompt),
				openai.UserMessage(transcript),
			},
		})
		if err != nil {
			return classify(ctx, err)
		}

		if len(completion.Choices) == 0 {
			return &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: no choices")}
		}
		minutes = strings.TrimSpace(completion.Choices[0].Message.Content)
		if minutes == "" {
			return &providers.ServiceError{Provider: providerName, Err: fmt.Errorf("malformed response: empty minutes")}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return minutes, nil
}
