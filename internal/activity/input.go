package activity

import (
	"strings"
	"unicode/utf8"
)

const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// submission is a line the user submitted with Enter.
type submission struct {
	line string
}

// inputParser reconstructs the line being typed from raw keystrokes so that
// Enter can be classified as an empty or non-empty submission.
type inputParser struct {
	line    strings.Builder
	inPaste bool
}

// feed consumes one chunk of input and returns the lines it submitted.
func (p *inputParser) feed(data string) []submission {
	var out []submission
	for len(data) > 0 {
		switch {
		case strings.HasPrefix(data, pasteStart):
			p.inPaste = true
			data = data[len(pasteStart):]
			continue
		case strings.HasPrefix(data, pasteEnd):
			p.inPaste = false
			data = data[len(pasteEnd):]
			continue
		}

		c := data[0]
		switch {
		case c == '\r' || c == '\n':
			if p.inPaste {
				p.line.WriteByte(' ')
				data = data[1:]
				continue
			}
			out = append(out, submission{line: p.line.String()})
			p.line.Reset()
			// CRLF is one submission.
			if c == '\r' && len(data) > 1 && data[1] == '\n' {
				data = data[1:]
			}
			data = data[1:]
		case c == 0x7f || c == '\b':
			p.backspace()
			data = data[1:]
		case c == 0x03 || c == 0x15: // ctrl+c, ctrl+u
			p.line.Reset()
			data = data[1:]
		case c == 0x1b:
			data = data[escapeLen(data):]
		case c < 0x20:
			data = data[1:]
		default:
			_, size := utf8.DecodeRuneInString(data)
			p.line.WriteString(data[:size])
			data = data[size:]
		}
	}
	return out
}

func (p *inputParser) backspace() {
	s := p.line.String()
	if s == "" {
		return
	}
	_, size := utf8.DecodeLastRuneInString(s)
	p.line.Reset()
	p.line.WriteString(s[:len(s)-size])
}

// pending returns the text typed since the last submission.
func (p *inputParser) pending() string {
	return p.line.String()
}

// escapeLen returns the length of the escape sequence at the start of s.
func escapeLen(s string) int {
	if len(s) < 2 {
		return len(s)
	}
	switch s[1] {
	case '[':
		for i := 2; i < len(s); i++ {
			if s[i] >= 0x40 && s[i] <= 0x7e {
				return i + 1
			}
		}
		return len(s)
	case 'O':
		return min(3, len(s))
	default:
		return 2
	}
}
