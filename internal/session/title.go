package session

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/forgesmith/codeforge/internal/event"
	"github.com/forgesmith/codeforge/internal/provider"
	"github.com/forgesmith/codeforge/pkg/types"
)

const titleSystemPrompt = `You are a title generator. You output ONLY a thread title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, ≤50 characters
- No explanations
- Use -ing verbs for actions (Debugging, Implementing, Analyzing)
- Keep exact: technical terms, numbers, filenames
- Remove: the, this, my, a, an
- Always output something meaningful

Examples:
"debug 500 errors in production" → Debugging production 500 errors
"refactor user service" → Refactoring user service
"implement rate limiting" → Implementing rate limiting`

const defaultTitlePrefix = "New Session"

// isDefaultTitle checks if a title is the default "New Session" title.
func isDefaultTitle(title string) bool {
	return title == defaultTitlePrefix || strings.HasPrefix(title, defaultTitlePrefix)
}

// ensureTitle generates a title for the session if it's still using the
// default title and has no parent (a fork keeps its forked-from title).
// Should only be called once, on the first user message of a session.
// Adapted from the teacher's internal/session/title.go, which ran this as
// a *Processor method publishing through the package-level global bus;
// here it runs as a *Manager method against the explicit *event.Bus the
// Manager was constructed with.
func (m *Manager) ensureTitle(ctx context.Context, session *types.Session, userContent string) {
	if session.ParentID != nil && *session.ParentID != "" {
		return
	}
	if !isDefaultTitle(session.Title) {
		return
	}

	model, err := m.providers.DefaultModel()
	if err != nil {
		return
	}
	prov, err := m.providers.Get(model.ProviderID)
	if err != nil {
		return
	}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: model.ID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: titleSystemPrompt},
			{Role: schema.User, Content: "Generate a title for this conversation:\n\n" + userContent},
		},
		MaxTokens: 50,
	})
	if err != nil {
		return
	}
	defer stream.Close()

	var title strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return
		}
		title.WriteString(msg.Content)
	}

	titleText := strings.TrimSpace(title.String())
	for _, line := range strings.Split(titleText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			titleText = line
			break
		}
	}
	if len(titleText) > 100 {
		titleText = titleText[:97] + "..."
	}
	if titleText == "" {
		return
	}

	session.Title = titleText
	if err := m.storage.Put(ctx, []string{"session", session.ProjectID, session.ID}, session); err != nil {
		return
	}

	m.bus.PublishSync(event.Event{
		Type: event.SessionUpdated,
		Data: event.SessionUpdatedData{Info: session},
	})
}
