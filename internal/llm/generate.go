package llm

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const (
	titleMaxRunes  = 50
	followupCount  = 3
	titleMaxTokens = 60
)

// GenerateTitle produces a short conversation title from the first
// exchange. Falls back to a truncated question when the provider fails
// or returns something unusable.
func (c *Client) GenerateTitle(ctx context.Context, question, answer string) string {
	temp := 0.3
	out, err := c.Chat(ctx, []Message{
		{Role: "system", Content: "You generate short conversation titles. Reply with only the title, no quotes, at most ten words, in the language of the question."},
		{Role: "user", Content: "Question: " + question + "\nAnswer: " + truncateRunes(answer, 500)},
	}, Options{Temperature: &temp, MaxTokens: titleMaxTokens})
	if err != nil {
		c.logger.Debug("Title generation failed, using fallback", zap.Error(err))
		return FallbackTitle(question)
	}
	title := cleanTitle(out)
	if title == "" {
		return FallbackTitle(question)
	}
	return title
}

// FallbackTitle derives a title from the question alone.
func FallbackTitle(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return "New Conversation"
	}
	return truncateRunes(q, titleMaxRunes)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'“”‘’`)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if strings.ContainsFunc(s, unicode.IsControl) {
		return ""
	}
	return truncateRunes(s, titleMaxRunes)
}

// SuggestFollowups asks the provider for three follow-up questions the
// user might send next. Returns nil when generation fails; follow-ups
// are best effort and never block a chat response.
func (c *Client) SuggestFollowups(ctx context.Context, question, answer string) []string {
	out, err := c.Chat(ctx, []Message{
		{Role: "system", Content: "Suggest exactly 3 short follow-up questions the user might ask next, in the language of the conversation. Reply as a numbered list, one question per line, nothing else."},
		{Role: "user", Content: "Question: " + question + "\nAnswer: " + truncateRunes(answer, 1000)},
	}, Options{MaxTokens: 200})
	if err != nil {
		c.logger.Debug("Follow-up generation failed", zap.Error(err))
		return nil
	}
	return ParseFollowups(out)
}

// ParseFollowups extracts up to three questions from a numbered or
// bulleted list.
func ParseFollowups(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789")
		line = strings.TrimLeft(line, ".)-*• \t")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == followupCount {
			break
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
