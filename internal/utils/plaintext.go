package utils

import (
	"regexp"
	"strings"
	"unicode"
)

// Anchor offsets are character positions into the plain-text view of a
// note, not its markdown source. PlainText is that view: a deterministic,
// structure-preserving strip of markdown syntax. Both the offset tracker and
// the anchoring protocol must run over this exact text.

var (
	linkPattern  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	imagePattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// PlainText strips markdown syntax from a note's content, preserving line
// structure so offsets remain stable across unrelated lines.
func PlainText(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		out = append(out, stripInline(stripLinePrefix(line)))
	}

	return strings.Join(out, "\n")
}

func stripLinePrefix(line string) string {
	trimmed := strings.TrimLeft(line, " \t")

	// Heading markers
	if strings.HasPrefix(trimmed, "#") {
		return strings.TrimLeft(strings.TrimLeft(trimmed, "#"), " ")
	}
	// Blockquote markers
	if strings.HasPrefix(trimmed, "> ") {
		return strings.TrimPrefix(trimmed, "> ")
	}
	// Bullet list markers
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
		return trimmed[2:]
	}
	// Numbered list markers ("1. ", "12. ")
	i := 0
	for i < len(trimmed) && unicode.IsDigit(rune(trimmed[i])) {
		i++
	}
	if i > 0 && i+1 < len(trimmed) && trimmed[i] == '.' && trimmed[i+1] == ' ' {
		return trimmed[i+2:]
	}
	return line
}

func stripInline(line string) string {
	line = imagePattern.ReplaceAllString(line, "")
	line = linkPattern.ReplaceAllString(line, "$1")
	for _, marker := range []string{"**", "__", "~~", "*", "_", "`"} {
		line = strings.ReplaceAll(line, marker, "")
	}
	return line
}

// CountWords counts the words in a note's plain-text view.
func CountWords(markdown string) int {
	return len(strings.Fields(PlainText(markdown)))
}
