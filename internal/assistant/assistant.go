// Package assistant defines what the conversational model receives and returns.
package assistant

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spigell/scentmatch/internal/articles"
	"github.com/spigell/scentmatch/internal/compat"
	"github.com/spigell/scentmatch/internal/intent"
	"github.com/spigell/scentmatch/internal/notes"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Context is the structured data gathered for one utterance.
type Context struct {
	Intent        intent.Intent            `json:"intent"`
	Names         []string                 `json:"perfumes,omitempty"`
	Notes         map[string]notes.NoteSet `json:"notes,omitempty"`
	Compatibility *compat.Result           `json:"layering,omitempty"`
	Articles      []articles.Article       `json:"articles,omitempty"`
	// Annotations are instructions for the model about what could not be done.
	Annotations []string `json:"-"`
}

type Reply struct {
	Text    string
	History []Message
}

// Generator produces the assistant's answer to utterance.
type Generator interface {
	Generate(ctx context.Context, history []Message, utterance string, c Context) (*Reply, error)
}

// AppendTurn returns a new history with the user utterance and the reply appended.
func AppendTurn(history []Message, utterance, reply string) []Message {
	out := make([]Message, 0, len(history)+2)
	out = append(out, history...)
	return append(out,
		Message{Role: RoleUser, Content: utterance},
		Message{Role: RoleAssistant, Content: reply},
	)
}

// Empty reports whether c carries nothing beyond the intent.
func (c Context) Empty() bool {
	return len(c.Names) == 0 && len(c.Notes) == 0 && c.Compatibility == nil &&
		len(c.Articles) == 0 && len(c.Annotations) == 0
}

// Render formats c as the text block appended to the user's message.
func (c Context) Render() string {
	if c.Empty() {
		return ""
	}

	var b strings.Builder
	if len(c.Names) > 0 || len(c.Notes) > 0 || c.Compatibility != nil || len(c.Articles) > 0 {
		data, err := json.MarshalIndent(c, "", "  ")
		if err == nil {
			b.WriteString("Context:\n```json\n")
			b.Write(data)
			b.WriteString("\n```")
		}
	}

	for _, note := range c.Annotations {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("(System note: ")
		b.WriteString(strings.TrimSpace(note))
		b.WriteString(")")
	}

	return b.String()
}

// Compose joins the utterance with the rendered context.
func Compose(utterance string, c Context) string {
	utterance = strings.TrimSpace(utterance)
	rendered := c.Render()
	if rendered == "" {
		return utterance
	}
	return utterance + "\n\n" + rendered
}
