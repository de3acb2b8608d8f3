// Package compact implements the Compaction Service:
// summarize-and-truncate the Conversation when token usage crosses the
// configured threshold, preserving lineage via a compact_boundary/
// compact_summary event pair written to the Session Log Store. The
// summarization approach (a single low-temperature LLM call) and the
// streaming accumulation pattern are grounded on the teacher's
// internal/session/compact.go; the `<analysis>`/`<summary>` extraction
// template, retain-count math, and orphan filtering are new.
package compact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/forgesmith/codeforge/internal/conversation"
	"github.com/forgesmith/codeforge/internal/enginerr"
	"github.com/forgesmith/codeforge/internal/hook"
	"github.com/forgesmith/codeforge/internal/provider"
	"github.com/forgesmith/codeforge/internal/sessionlog"
	"github.com/forgesmith/codeforge/pkg/types"
)

// Config mirrors types.CompactionConfig with the defaults applied.
type Config struct {
	ThresholdRatio      float64
	RetainRatio         float64
	FallbackRetainRatio float64
	Model               string // "provider/model", empty uses the registry default

	// PerMessageMaxChars bounds how much of one message's text enters the
	// summarization prompt; SummaryMaxTokens bounds the LLM's output.
	PerMessageMaxChars int
	SummaryMaxTokens   int
	// MaxFilesIncluded and FilePrefixBytes bound the "important files" scan
	// (step 2): how many distinct paths are read, and how much of each.
	MaxFilesIncluded int
	FilePrefixBytes   int
}

// FromTypes builds a Config from the user-facing config, filling in spec
// defaults for anything unset.
func FromTypes(c *types.CompactionConfig) Config {
	cfg := Config{
		ThresholdRatio:      0.8,
		RetainRatio:         0.2,
		FallbackRetainRatio: 0.3,
		PerMessageMaxChars:  2000,
		SummaryMaxTokens:    2000,
		MaxFilesIncluded:    5,
		FilePrefixBytes:     4000,
	}
	if c == nil {
		return cfg
	}
	if c.ThresholdRatio > 0 {
		cfg.ThresholdRatio = c.ThresholdRatio
	}
	if c.RetainRatio > 0 {
		cfg.RetainRatio = c.RetainRatio
	}
	if c.FallbackRetainRatio > 0 {
		cfg.FallbackRetainRatio = c.FallbackRetainRatio
	}
	cfg.Model = c.Model
	return cfg
}

// Service runs compaction for one session at a time; it holds no per-session
// state itself (the Conversation and sessionlog.Store belong to the caller,
// normally C9's session actor).
type Service struct {
	cfg       Config
	providers *provider.Registry
	hooks     *hook.Dispatcher
}

// New builds a Service wired to the provider registry (for the summarization
// call) and the hook dispatcher (for the Compaction veto site).
func New(cfg Config, providers *provider.Registry, hooks *hook.Dispatcher) *Service {
	return &Service{cfg: cfg, providers: providers, hooks: hooks}
}

// Trigger distinguishes the two ways compaction can start.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

// Result is what Compact hands back to the caller so it can swap the live
// Conversation and persist the new TokenUsage.
type Result struct {
	Summary          string
	RetainedMessages []conversation.Message
	PreTokens        int
	PostTokens       int
	FilesIncluded    []string
	Fallback         bool
	FallbackErr      error
}

// Compact runs the full algorithm: hook veto, important-file scan, summary
// prompt construction, LLM call, extraction, retain-count slicing, orphan
// filtering, and event-log writes. workspaceRoot is used to resolve the
// path-like tokens found in step 2 relative to the working tree.
func (s *Service) Compact(
	ctx context.Context,
	store *sessionlog.Store,
	conv *conversation.Conversation,
	sessionID, workspaceRoot string,
	trigger Trigger,
) (Result, error) {
	if s.hooks != nil {
		if err := s.hooks.Run(ctx, hook.SitePreCompact, hook.Payload{
			Site:      hook.SitePreCompact,
			SessionID: sessionID,
		}); err != nil {
			return Result{}, err
		}
	}

	messages, usage := conv.Snapshot()
	preTokens := usage.Input

	res, err := s.summarize(ctx, messages, workspaceRoot)
	if err != nil {
		fallback := s.fallbackRetain(messages)
		fallbackText := fmt.Sprintf("[Automatic compaction failed; using fallback] %v", err)
		if writeErr := s.writeBoundaryAndSummary(ctx, store, sessionID, trigger, preTokens, nil, fallbackText, messages, fallback); writeErr != nil {
			return Result{}, writeErr
		}
		return Result{
			Summary:          fallbackText,
			RetainedMessages: fallback,
			PreTokens:        preTokens,
			PostTokens:       estimateMessagesTokens(fallback) + estimateTokens(fallbackText),
			Fallback:         true,
			FallbackErr:      err,
		}, nil
	}

	retained := retainSuffix(messages, s.cfg.RetainRatio)
	retained = conversation.FilterOrphanToolMessages(retained)

	if err := s.writeBoundaryAndSummary(ctx, store, sessionID, trigger, preTokens, res.filesIncluded, res.summary, messages, retained); err != nil {
		return Result{}, err
	}

	postTokens := estimateMessagesTokens(retained) + estimateTokens(res.summary)

	return Result{
		Summary:          res.summary,
		RetainedMessages: retained,
		PreTokens:        preTokens,
		PostTokens:       postTokens,
		FilesIncluded:    res.filesIncluded,
	}, nil
}

// ShouldTrigger reports whether usage crosses the auto-compaction threshold
//.
func (s *Service) ShouldTrigger(usage conversation.TokenUsage) bool {
	return usage.Ratio() > s.cfg.ThresholdRatio
}

type summaryResult struct {
	summary       string
	filesIncluded []string
}

func (s *Service) summarize(ctx context.Context, messages []conversation.Message, workspaceRoot string) (summaryResult, error) {
	files := importantFiles(messages, s.cfg.MaxFilesIncluded)
	fileContents := make(map[string]string, len(files))
	for _, f := range files {
		content, err := readPrefix(workspaceRoot, f, s.cfg.FilePrefixBytes)
		if err != nil {
			continue // unreadable files are simply omitted, not a hard failure
		}
		fileContents[f] = content
	}

	prompt := buildSummaryPrompt(messages, fileContents, s.cfg.PerMessageMaxChars)

	model, err := s.resolveModel()
	if err != nil {
		return summaryResult{}, err
	}
	prov, err := s.providers.Get(model.ProviderID)
	if err != nil {
		return summaryResult{}, err
	}

	stream, err := prov.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: model.ID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: compactionSystemPrompt},
			{Role: schema.User, Content: prompt},
		},
		MaxTokens:   s.cfg.SummaryMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return summaryResult{}, enginerr.Transport(err, "compaction completion request failed")
	}
	defer stream.Close()

	var full strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summaryResult{}, enginerr.Transport(err, "compaction stream read failed")
		}
		full.WriteString(msg.Content)
	}

	summary, ok := extractSummary(full.String())
	if !ok {
		summary = full.String()
	}

	fileList := make([]string, 0, len(fileContents))
	for f := range fileContents {
		fileList = append(fileList, f)
	}
	return summaryResult{summary: summary, filesIncluded: fileList}, nil
}

func (s *Service) resolveModel() (*types.Model, error) {
	if s.cfg.Model != "" {
		providerID, modelID := provider.ParseModelString(s.cfg.Model)
		return s.providers.GetModel(providerID, modelID)
	}
	return s.providers.DefaultModel()
}

// fallbackRetain keeps the latest FallbackRetainRatio fraction of messages,
// used when the summarization call itself fails.
func (s *Service) fallbackRetain(messages []conversation.Message) []conversation.Message {
	kept := retainSuffix(messages, s.cfg.FallbackRetainRatio)
	return conversation.FilterOrphanToolMessages(kept)
}

// retainSuffix returns the last ceil(ratio × len(messages)) messages.
func retainSuffix(messages []conversation.Message, ratio float64) []conversation.Message {
	n := int(math.Ceil(ratio * float64(len(messages))))
	if n >= len(messages) {
		return append([]conversation.Message{}, messages...)
	}
	if n <= 0 {
		return nil
	}
	out := make([]conversation.Message, n)
	copy(out, messages[len(messages)-n:])
	return out
}

func (s *Service) writeBoundaryAndSummary(
	ctx context.Context,
	store *sessionlog.Store,
	sessionID string,
	trigger Trigger,
	preTokens int,
	filesIncluded []string,
	summaryText string,
	allMessages []conversation.Message,
	retained []conversation.Message,
) error {
	var lastRetainedID *string
	if len(allMessages) > 0 {
		cutoff := len(allMessages) - len(retained)
		if cutoff > 0 && cutoff <= len(allMessages) {
			id := allMessages[cutoff-1].ID
			lastRetainedID = &id
		}
	}

	postTokens := estimateMessagesTokens(retained) + estimateTokens(summaryText)

	boundaryEvent := sessionlog.Event{
		SessionID: sessionID,
		Kind:      sessionlog.KindCompactBoundary,
		Subkind:   sessionlog.SubkindCompactBoundary,
		Payload:   marshalSystem("compaction boundary"),
		CompactMetadata: &sessionlog.CompactMetadata{
			Trigger:       sessionlog.CompactTrigger(trigger),
			PreTokens:     preTokens,
			PostTokens:    &postTokens,
			FilesIncluded: filesIncluded,
		},
	}
	if err := store.Append(ctx, boundaryEvent); err != nil {
		return enginerr.IO(err, "write compact_boundary event")
	}

	summaryEvent := sessionlog.Event{
		SessionID:       sessionID,
		Kind:            sessionlog.KindCompactSummary,
		LogicalParentID: lastRetainedID,
		Payload:         marshalSummary(summaryText),
	}
	if err := store.Append(ctx, summaryEvent); err != nil {
		return enginerr.IO(err, "write compact_summary event")
	}
	return nil
}

func marshalSystem(text string) json.RawMessage {
	return mustMarshal(sessionlog.SystemPayload{Text: text})
}

func marshalSummary(text string) json.RawMessage {
	return mustMarshal(sessionlog.CompactSummaryPayload{Text: text})
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payload types here are plain structs; marshaling cannot fail.
		panic(err)
	}
	return b
}

const compactionSystemPrompt = `You are a conversation summarizer preparing a handoff for continuing an interactive coding session. Respond with exactly two sections:

<analysis>
Brief notes on what the conversation covered and why it is being compacted.
</analysis>

<summary>
A concise summary preserving: what was accomplished, current work in progress, files involved, next steps, and any key user requests or constraints. Be concise but detailed enough that work can continue seamlessly.
</summary>`

var summaryTagRe = regexp.MustCompile(`(?s)<summary>\s*(.*?)\s*</summary>`)

// extractSummary pulls the <summary> block out of the LLM's response. The
// rigid template asks for an <analysis> section too, but only the summary
// is kept for the replacement Conversation; analysis is discarded after
// surfacing a well-formed extraction failure to the caller via ok=false.
func extractSummary(text string) (string, bool) {
	m := summaryTagRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func buildSummaryPrompt(messages []conversation.Message, fileContents map[string]string, perMessageMax int) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation, focusing on:\n")
	b.WriteString("1. Key decisions and outcomes\n")
	b.WriteString("2. Files that were modified\n")
	b.WriteString("3. Important context for continuing the work\n\n---\n\n")

	for _, m := range messages {
		switch m.Role {
		case conversation.RoleUser:
			b.WriteString("USER:\n")
		case conversation.RoleAssistant:
			b.WriteString("ASSISTANT:\n")
		case conversation.RoleTool:
			b.WriteString(fmt.Sprintf("[Tool: %s]\n", m.ToolName))
		default:
			b.WriteString("SYSTEM:\n")
		}

		text := m.Text
		if len(text) > perMessageMax {
			text = text[:perMessageMax] + "..."
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	if len(fileContents) > 0 {
		b.WriteString("---\nRelevant file contents:\n\n")
		for path, content := range fileContents {
			b.WriteString(fmt.Sprintf("FILE: %s\n%s\n\n", path, content))
		}
	}

	b.WriteString("Respond using the <analysis>/<summary> template described in your instructions.\n")
	return b.String()
}

// pathLikeRe matches a path-like token: at least one slash or a file
// extension, used by the simple important-files scan.
var pathLikeRe = regexp.MustCompile(`(?:[.\w/-]+/)?[\w.-]+\.[A-Za-z][A-Za-z0-9]{0,8}\b|(?:[\w.-]+/)+[\w.-]+`)

// importantFiles scans user and tool-output message text for path-like
// tokens, returning up to max distinct candidates in first-seen order.
func importantFiles(messages []conversation.Message, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range messages {
		if m.Role != conversation.RoleUser && m.Role != conversation.RoleTool {
			continue
		}
		for _, tok := range pathLikeRe.FindAllString(m.Text, -1) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// readPrefix reads up to n bytes of path, resolved relative to root unless
// already absolute.
func readPrefix(root, path string, n int) (string, error) {
	full := path
	if !isAbs(path) {
		full = root + string(os.PathSeparator) + path
	}
	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return string(buf[:read]), nil
}

func isAbs(path string) bool {
	return strings.HasPrefix(path, "/")
}

// estimateTokens is the heuristic fallback when no model-specific tokenizer
// is wired: chars/4.
func estimateTokens(text string) int {
	return len(text) / 4
}

func estimateMessagesTokens(messages []conversation.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Text)
	}
	return total
}
