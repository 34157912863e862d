package vectorctx

// chunkText splits text into overlapping windows of at most maxChars
// runes, each subsequent window starting overlapChars runes before the
// previous one ended. overlapChars is clamped to maxChars/4 per the
// indexing contract.
func chunkText(text string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars > maxChars/4 {
		overlapChars = maxChars / 4
	}
	if overlapChars < 0 {
		overlapChars = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= maxChars {
		return []string{string(runes)}
	}

	stride := maxChars - overlapChars
	if stride <= 0 {
		stride = maxChars
	}

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
