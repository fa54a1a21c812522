package orchestrator

import (
	"regexp"
	"strings"
)

// executableTags are the fenced-block languages that route to an
// execution-capable worker.
var executableTags = map[string]bool{
	"python": true,
	"sh":     true,
}

var fenceRE = regexp.MustCompile("(?s)```[ \t]*([\\w+-]*)[ \t]*\r?\n(.*?)```")

// CodeBlock is one fenced code block extracted from a message.
type CodeBlock struct {
	Lang string
	Code string
}

// ExtractCodeBlocks returns all fenced code blocks in the message.
func ExtractCodeBlocks(msg string) []CodeBlock {
	matches := fenceRE.FindAllStringSubmatch(msg, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Lang: strings.ToLower(strings.TrimSpace(m[1])),
			Code: m[2],
		})
	}
	return blocks
}

// hasExecutableCode reports whether the message contains at least one
// fenced block tagged with an executable language.
func hasExecutableCode(msg string) bool {
	for _, b := range ExtractCodeBlocks(msg) {
		if executableTags[b.Lang] {
			return true
		}
	}
	return false
}
