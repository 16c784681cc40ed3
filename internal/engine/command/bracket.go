package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Tag is a bare control marker embedded in generated prose.
type Tag string

const (
	TagActionCheck Tag = "action_check"
	TagCombatStart Tag = "combat_start"
	TagEndSection  Tag = "end_section"
)

var (
	inlineCommandPattern = regexp.MustCompile(`\[command:([a-z_]+)\(([^)]*)\)\]`)
	bareTagPattern       = regexp.MustCompile(`\[(action_check|combat_start|end_section)\]`)
)

// Extraction is the result of scanning prose for inline commands and tags.
type Extraction struct {
	// Text is the prose with every recognized marker stripped.
	Text     string
	Commands []Command
	Tags     []Tag
}

// Extract scans generated prose for the legacy inline syntax
// [command:op(arg1,"arg2",...)] and bare control tags, strips them, and
// returns the parsed results. Unrecognized ops are stripped but dropped.
func Extract(text string) Extraction {
	var out Extraction

	out.Text = inlineCommandPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := inlineCommandPattern.FindStringSubmatch(match)
		if cmd, ok := parseInline(groups[1], groups[2]); ok {
			out.Commands = append(out.Commands, cmd)
		}
		return ""
	})

	out.Text = bareTagPattern.ReplaceAllStringFunc(out.Text, func(match string) string {
		groups := bareTagPattern.FindStringSubmatch(match)
		out.Tags = append(out.Tags, Tag(groups[1]))
		return ""
	})

	out.Text = collapseWhitespace(out.Text)
	return out
}

func parseInline(op, rawArgs string) (Command, bool) {
	args := splitArgs(rawArgs)
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch Op(op) {
	case OpAddItem:
		return Command{Op: OpAddItem, Name: arg(0), Count: parseCount(arg(1)), Note: arg(2)}, true
	case OpRemoveItem:
		return Command{Op: OpRemoveItem, Name: arg(0), Count: parseCount(arg(1))}, true
	case OpAddHistory:
		return Command{Op: OpAddHistory, Name: arg(0), Note: arg(1)}, true
	case OpCreateCanon:
		return Command{Op: OpCreateCanon, Name: arg(0), Type: arg(1), Note: arg(2)}, true
	}
	return Command{}, false
}

// splitArgs splits on commas outside double quotes and trims quotes and
// whitespace from each argument.
func splitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var args []string
	var current strings.Builder
	inQuote := false
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	args = append(args, strings.TrimSpace(current.String()))
	return args
}

// parseCount defaults to 1; generated counts are sometimes omitted or
// malformed and a best-effort single unit beats dropping the command.
func parseCount(raw string) int {
	if raw == "" {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// collapseWhitespace tidies the holes left by stripped markers.
func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "" && len(out) > 0 && out[len(out)-1] == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
