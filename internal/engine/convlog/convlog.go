// Package convlog maintains the session conversation history as two parallel
// sequences: a full log that only ever grows, and a slim log whose old turns
// are compacted into summary entries so prompts stay bounded over an
// arbitrarily long session.
package convlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aldermoor/storyloom/internal/ai"
)

// Role identifies the author of a log entry. Summary is internal: it marks
// entries produced by compaction and is converted to a system message when
// sent to the completion service.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "summary"
)

// Entry is one line of conversation history.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	fullFile = "conversation.json"
	slimFile = "conversation_slim.json"

	// DefaultThreshold is the loop count that triggers compaction.
	DefaultThreshold = 10
	// DefaultBatch is how many oldest loops one compaction collapses.
	DefaultBatch = 5
)

// Storage persists both logs wholesale.
type Storage interface {
	SaveSessionJSON(worldviewID, sessionID, name string, v any) error
	LoadSessionJSON(worldviewID, sessionID, name string, target any) error
}

// Config wires a Log.
type Config struct {
	WorldviewID string
	SessionID   string
	Storage     Storage
	Engine      ai.Engine
	Logger      zerolog.Logger

	// Threshold and Batch default to DefaultThreshold and DefaultBatch.
	Threshold int
	Batch     int

	// ContextSnippets, when set, supplies worldview/character/canon context
	// for the compaction prompt so summaries keep proper nouns straight.
	ContextSnippets func() string
}

// Log is the conversation history of one session. Not safe for concurrent
// use; the engine owns it from a single worker goroutine.
type Log struct {
	cfg  Config
	full []Entry
	slim []Entry
}

// Open loads the persisted logs, starting empty when none exist.
func Open(cfg Config) (*Log, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}

	log := &Log{cfg: cfg}
	if err := cfg.Storage.LoadSessionJSON(cfg.WorldviewID, cfg.SessionID, fullFile, &log.full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load full log: %w", err)
	}
	if err := cfg.Storage.LoadSessionJSON(cfg.WorldviewID, cfg.SessionID, slimFile, &log.slim); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load slim log: %w", err)
	}
	return log, nil
}

// Append records one entry in both logs, compacting the slim log when the
// loop count crosses the threshold. Compaction failure never fails the
// append; it is retried at the next crossing.
func (l *Log) Append(ctx context.Context, role Role, content string) error {
	l.full = append(l.full, Entry{Role: role, Content: content})
	l.slim = append(l.slim, Entry{Role: role, Content: content})

	if l.loopCount() > l.cfg.Threshold {
		if err := l.compact(ctx, l.cfg.Batch); err != nil {
			l.cfg.Logger.Warn().Err(err).Msg("compaction skipped")
		}
	}
	return l.persist()
}

// Full returns a copy of the complete history.
func (l *Log) Full() []Entry {
	out := make([]Entry, len(l.full))
	copy(out, l.full)
	return out
}

// Slim returns a copy of the bounded history.
func (l *Log) Slim() []Entry {
	out := make([]Entry, len(l.slim))
	copy(out, l.slim)
	return out
}

// Messages renders the slim log for the completion service. Summary entries
// become system messages carrying a summary prefix.
func (l *Log) Messages() []ai.Message {
	out := make([]ai.Message, 0, len(l.slim))
	for _, entry := range l.slim {
		msg := ai.Message{Role: ai.Role(entry.Role), Content: entry.Content}
		if entry.Role == RoleSummary {
			msg.Role = ai.RoleSystem
			msg.Content = "[summary] " + entry.Content
		}
		out = append(out, msg)
	}
	return out
}

// SummarizeNow collapses every remaining non-summary slim entry into one
// summary entry. Used at forced boundaries such as chapter starts and section
// ends.
func (l *Log) SummarizeNow(ctx context.Context) error {
	start := l.firstNonSummary()
	if start == len(l.slim) {
		return nil
	}
	if err := l.compactRange(ctx, start, len(l.slim)); err != nil {
		return err
	}
	return l.persist()
}

// NarrativeSummary produces a prose synopsis of the session so far, suitable
// for cross-session continuity.
func (l *Log) NarrativeSummary(ctx context.Context) (string, error) {
	if l.cfg.Engine == nil {
		return "", fmt.Errorf("completion engine is required")
	}
	messages := []ai.Message{{
		Role: ai.RoleSystem,
		Content: "You are the chronicler of a tabletop role-playing session. " +
			"Write a story summary of the play log below in flowing prose, " +
			"third person, past tense. Keep every proper noun. " +
			"Cover the whole arc in at most 400 words.",
	}, {
		Role:    ai.RoleUser,
		Content: flatten(l.slim),
	}}
	res, err := l.cfg.Engine.Complete(ctx, ai.Request{
		Caller:    "convlog.narrative",
		Tier:      ai.TierMedium,
		Messages:  messages,
		MaxOutput: 1500,
	})
	if err != nil {
		return "", fmt.Errorf("narrative summary: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// loopCount counts conversation loops in the slim log. A loop starts at each
// user entry; summaries do not count.
func (l *Log) loopCount() int {
	count := 0
	for _, entry := range l.slim {
		if entry.Role == RoleUser {
			count++
		}
	}
	return count
}

// firstNonSummary returns the index after the leading summary block.
func (l *Log) firstNonSummary() int {
	for i, entry := range l.slim {
		if entry.Role != RoleSummary {
			return i
		}
	}
	return len(l.slim)
}

// compact collapses the oldest batch loops into one summary entry.
func (l *Log) compact(ctx context.Context, batch int) error {
	start := l.firstNonSummary()
	end := start
	loops := 0
	for end < len(l.slim) {
		if l.slim[end].Role == RoleUser {
			if loops == batch {
				break
			}
			loops++
		}
		end++
	}
	if end == start {
		return nil
	}
	return l.compactRange(ctx, start, end)
}

// compactRange replaces slim[start:end] with a single summary entry.
func (l *Log) compactRange(ctx context.Context, start, end int) error {
	if l.cfg.Engine == nil {
		return fmt.Errorf("completion engine is required")
	}

	prompt := "You compress tabletop role-playing play logs. Summarize the " +
		"excerpt below into a compact factual digest: events, decisions, " +
		"discovered facts, item and relationship changes. Keep every proper " +
		"noun. No commentary."
	if l.cfg.ContextSnippets != nil {
		if snippets := l.cfg.ContextSnippets(); snippets != "" {
			prompt += "\n\nWorld context:\n" + snippets
		}
	}

	res, err := l.cfg.Engine.Complete(ctx, ai.Request{
		Caller: "convlog.compact",
		Tier:   ai.TierLow,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: prompt},
			{Role: ai.RoleUser, Content: flatten(l.slim[start:end])},
		},
		MaxOutput: 1200,
	})
	if err != nil {
		return fmt.Errorf("compact %d entries: %w", end-start, err)
	}

	summary := Entry{Role: RoleSummary, Content: strings.TrimSpace(res.Text)}
	rebuilt := make([]Entry, 0, len(l.slim)-(end-start)+1)
	rebuilt = append(rebuilt, l.slim[:start]...)
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, l.slim[end:]...)
	l.slim = rebuilt

	l.cfg.Logger.Debug().
		Int("compacted", end-start).
		Int("slim_len", len(l.slim)).
		Msg("slim log compacted")
	return nil
}

func (l *Log) persist() error {
	if err := l.cfg.Storage.SaveSessionJSON(l.cfg.WorldviewID, l.cfg.SessionID, fullFile, l.full); err != nil {
		return fmt.Errorf("save full log: %w", err)
	}
	if err := l.cfg.Storage.SaveSessionJSON(l.cfg.WorldviewID, l.cfg.SessionID, slimFile, l.slim); err != nil {
		return fmt.Errorf("save slim log: %w", err)
	}
	return nil
}

func flatten(entries []Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(string(entry.Role))
		b.WriteString(": ")
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	return b.String()
}
