package activity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/termhost/internal/registry"
)

// Profile is the set of patterns that recognize a kind of program's working,
// completed and waiting-at-prompt output.
type Profile struct {
	Name               string
	IgnoreInputs       []string
	WorkingPatterns    []string
	CompletionPatterns []string
	PromptPatterns     []string
}

// Pattern sets for the built-in profiles.
var (
	// SoftNewlineInputs are key sequences that insert a newline into an
	// agent's input box without submitting it.
	SoftNewlineInputs = []string{
		"\x1b\r",        // alt+enter
		"\x1b[13;2u",    // shift+enter, kitty keyboard protocol
		"\x1b[27;2;13~", // shift+enter, xterm modifyOtherKeys
	}

	// AgentWorkingPatterns detect a coding agent actively working.
	AgentWorkingPatterns = []string{
		`(?i)esc to (?:interrupt|cancel)`,
		`(?i)ctrl\+c to (?:interrupt|cancel)`,
		`(?i)(?:reading|writing|editing|creating|modifying|analyzing|searching|running|executing|building|compiling|testing|thinking)(?:\.{3}|…)`,
		`⠋|⠙|⠹|⠸|⠼|⠴|⠦|⠧|⠇|⠏`, // braille spinner frames
	}

	// AgentPromptPatterns detect an agent's input box waiting for the user.
	AgentPromptPatterns = []string{
		`⏵⏵\s*bypass permissions`,
		`⏵\s*(?:allow|approve|bypass)`,
		`↵\s*send`,
		`\(shift\+tab to cycle\)`,
		`(?m)^\s*>\s*$`,
		`(?m)^\s*│\s*>\s`,
	}

	// ShellPromptPatterns detect a conventional shell prompt at the end of a
	// line.
	ShellPromptPatterns = []string{
		`[$#%>❯➜»]\s*$`,
	}
)

// ShellProfile recognizes an interactive shell. Shells have no reliable
// working signature, so only volume and rewrite signals apply.
var ShellProfile = Profile{
	Name:           "shell",
	PromptPatterns: ShellPromptPatterns,
}

// AgentProfile recognizes an AI coding agent's terminal UI.
var AgentProfile = Profile{
	Name:            "agent",
	IgnoreInputs:    SoftNewlineInputs,
	WorkingPatterns: AgentWorkingPatterns,
	PromptPatterns:  AgentPromptPatterns,
}

// ProfileFor returns the built-in profile for a terminal kind.
func ProfileFor(kind registry.Kind) Profile {
	if kind == registry.KindAgent {
		return AgentProfile
	}
	return ShellProfile
}

// matcher is a compiled pattern list.
type matcher []*regexp.Regexp

// compilePatterns compiles a list of regex pattern strings. It fails on the
// first invalid pattern.
func compilePatterns(patterns []string) (matcher, error) {
	compiled := make(matcher, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// ValidatePatterns reports the first pattern that does not compile.
func ValidatePatterns(patterns []string) error {
	_, err := compilePatterns(patterns)
	return err
}

// Match reports whether text matches any pattern.
func (m matcher) Match(text string) bool {
	for _, re := range m {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Empty reports whether there are no patterns.
func (m matcher) Empty() bool {
	return len(m) == 0
}

// ansiRegex matches CSI sequences (ESC[...letter), OSC sequences (ESC]...BEL
// or ESC]...ESC\) and two-byte escapes.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?<>=]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

// StripANSI removes terminal escape sequences from text.
func StripANSI(text string) string {
	return ansiRegex.ReplaceAllString(text, "")
}

// lastNonEmptyLines returns the last n non-empty lines of lines, trimmed.
func lastNonEmptyLines(lines []string, n int) []string {
	result := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(result) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			result = append([]string{line}, result...)
		}
	}
	return result
}
