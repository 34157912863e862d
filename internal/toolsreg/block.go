package toolsreg

import (
	"regexp"
	"strings"
)

// Block is a parsed fenced directive: a tool call or a delegation request.
type Block struct {
	Name    string // lowercased NAME or ID
	Raw     string // the full "<<<tool.NAME\n...\n>>>" text, for in-place replacement
	Payload string // trimmed body between the fences
	Start   int    // byte offset of Raw in the source text
	End     int    // Start + len(Raw)
}

var (
	toolBlockRe  = regexp.MustCompile(`(?is)<<<tool\.([a-z0-9_-]+)\r?\n(.*?)\r?\n?>>>`)
	agentBlockRe = regexp.MustCompile(`(?is)<<<agent\.([a-zA-Z0-9_-]+)\r?\n(.*?)\r?\n?>>>`)
)

// ParseToolBlocks extracts <<<tool.NAME\n...\n>>> blocks in source order.
func ParseToolBlocks(text string) []Block {
	return parseBlocks(text, toolBlockRe, true)
}

// ParseAgentBlocks extracts <<<agent.ID\n...\n>>> delegation blocks in
// source order. The namespace is disjoint from tool blocks by construction
// (distinct prefix), so a single text may contain both.
func ParseAgentBlocks(text string) []Block {
	return parseBlocks(text, agentBlockRe, false)
}

func parseBlocks(text string, re *regexp.Regexp, lowerName bool) []Block {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		name := text[m[2]:m[3]]
		if lowerName {
			name = strings.ToLower(name)
		}
		payload := strings.TrimSpace(text[m[4]:m[5]])
		blocks = append(blocks, Block{
			Name:    name,
			Raw:     text[m[0]:m[1]],
			Payload: payload,
			Start:   m[0],
			End:     m[1],
		})
	}
	return blocks
}

// StripBlocks removes every block's Raw occurrence from text and trims
// leading and trailing whitespace from the result; whitespace around a
// removed block is kept as is. Used to produce the "stripped text" view
// and to strip delegation blocks from a supervisor's final response.
func StripBlocks(text string, blocks []Block) string {
	if len(blocks) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, blk := range blocks {
		b.WriteString(text[last:blk.Start])
		last = blk.End
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String())
}

// ReplaceBlocks substitutes each block's Raw text with its corresponding
// output (by index, matching block order) producing the "replaced text".
// Replacement occurs at the original positions regardless of the order in
// which outputs were computed (parallel execution may finish out of order).
func ReplaceBlocks(text string, blocks []Block, outputs []string) string {
	if len(blocks) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for i, blk := range blocks {
		b.WriteString(text[last:blk.Start])
		b.WriteString(outputs[i])
		last = blk.End
	}
	b.WriteString(text[last:])
	return b.String()
}
