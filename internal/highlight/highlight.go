package highlight

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

type Result struct {
	Text      string
	Count     int
	LineIndex []int
}

// ApplyANSI wraps every case-insensitive occurrence of query in input with
// wrap. Escape sequences are left untouched and a match never spans one.
func ApplyANSI(input, query string, wrap func(string) string) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{Text: input}
	}
	if wrap == nil {
		wrap = func(s string) string { return s }
	}

	lines := strings.SplitAfter(input, "\n")
	if len(lines) == 0 {
		lines = []string{input}
	}

	var out strings.Builder
	lineMatches := make([]int, 0, 64)
	total := 0

	for lineNo, line := range lines {
		hasNewline := strings.HasSuffix(line, "\n")
		core := line
		if hasNewline {
			core = strings.TrimSuffix(line, "\n")
		}

		rendered, count := applyToANSIText(core, query, wrap)
		out.WriteString(rendered)
		if hasNewline {
			out.WriteByte('\n')
		}
		if count > 0 {
			lineMatches = append(lineMatches, lineNo)
			total += count
		}
	}

	return Result{
		Text:      out.String(),
		Count:     total,
		LineIndex: lineMatches,
	}
}

func applyToANSIText(s, query string, wrap func(string) string) (string, int) {
	indices := ansiCSI.FindAllStringIndex(s, -1)
	if len(indices) == 0 {
		return applyToPlain(s, query, wrap)
	}

	var out strings.Builder
	total := 0
	pos := 0
	for _, idx := range indices {
		if idx[0] > pos {
			plain, count := applyToPlain(s[pos:idx[0]], query, wrap)
			out.WriteString(plain)
			total += count
		}
		out.WriteString(s[idx[0]:idx[1]])
		pos = idx[1]
	}
	if pos < len(s) {
		plain, count := applyToPlain(s[pos:], query, wrap)
		out.WriteString(plain)
		total += count
	}
	return out.String(), total
}

func applyToPlain(s, query string, wrap func(string) string) (string, int) {
	if s == "" || query == "" {
		return s, 0
	}

	var out strings.Builder
	count := 0
	start := 0
	for start < len(s) {
		i, j := indexFold(s[start:], query)
		if i < 0 {
			break
		}
		out.WriteString(s[start : start+i])
		out.WriteString(wrap(s[start+i : start+j]))
		count++
		start += j
	}
	if count == 0 {
		return s, 0
	}
	out.WriteString(s[start:])
	return out.String(), count
}

// indexFold returns the byte span of the first case-insensitive match of q
// in s, or -1, -1. Offsets refer to s, so case mappings that change the
// encoded width cannot misalign the span.
func indexFold(s, q string) (int, int) {
	n := utf8.RuneCountInString(q)
	for i := 0; i < len(s); {
		end := i
		for k := 0; k < n && end < len(s); k++ {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
		}
		if strings.EqualFold(s[i:end], q) {
			return i, end
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, -1
}

// Cursor walks the matched lines of a Result.
type Cursor struct {
	lines []int
	count int
	index int
}

func NewCursor(res Result) Cursor {
	if res.Count == 0 || len(res.LineIndex) == 0 {
		return Cursor{index: -1}
	}
	return Cursor{lines: append([]int(nil), res.LineIndex...), count: res.Count}
}

func (c Cursor) Empty() bool { return len(c.lines) == 0 }

// Count is the number of matches, which may exceed the number of lines.
func (c Cursor) Count() int { return c.count }

// Position is the 1-based index of the current matched line, 0 when empty.
func (c Cursor) Position() int {
	if c.Empty() {
		return 0
	}
	return c.index + 1
}

func (c Cursor) Line() int {
	if c.Empty() {
		return -1
	}
	return c.lines[c.index]
}

// Move steps delta matched lines forward or back, wrapping at either end,
// and returns the new line.
func (c *Cursor) Move(delta int) int {
	if c.Empty() {
		return -1
	}
	n := len(c.lines)
	c.index = ((c.index+delta)%n + n) % n
	return c.lines[c.index]
}
