package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/aiverse/internal/ai"
)

const (
	titleContextMessages = 4
	titleMaxWords        = 4
)

const titleInstruction = "Generate a short title of 3 to 4 words for the following conversation. " +
	"Reply with the title only: no quotes, no punctuation at the end, no explanation."

// TitleGenerator labels a session from its first messages.
type TitleGenerator struct {
	provider ai.Provider
}

func NewTitleGenerator(provider ai.Provider) *TitleGenerator {
	return &TitleGenerator{provider: provider}
}

// Generate never fails: any problem yields DefaultTitle.
func (g *TitleGenerator) Generate(ctx context.Context, msgs []Message) string {
	title, err := g.generate(ctx, msgs)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("title generation failed, keeping default")
		return DefaultTitle
	}
	return title
}

func (g *TitleGenerator) generate(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("no messages to title")
	}
	reply, err := g.provider.Chat(ctx, []ai.Message{{Role: ai.RoleUser, Content: titlePrompt(msgs)}})
	if err != nil {
		return "", fmt.Errorf("title provider: %w", err)
	}
	title := cleanTitle(reply)
	if title == "" {
		return "", errors.New("provider returned an empty title")
	}
	return title, nil
}

func titlePrompt(msgs []Message) string {
	if len(msgs) > titleContextMessages {
		msgs = msgs[:titleContextMessages]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return titleInstruction + "\n\n" + strings.Join(lines, "\n")
}

// cleanTitle trims the reply and keeps at most titleMaxWords words.
func cleanTitle(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "\"'`")
	words := strings.Fields(s)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}
