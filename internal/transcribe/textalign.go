// Word-level timestamp recovery for refined text: the refinement
// model returns characters/words but not per-word timing as precise
// as the primary pass's word timestamps. alignRefinedText reuses the
// primary pass's word timestamps as LCS anchors so the refined
// segment still carries usable per-word timing for the aligner.
package transcribe

import "voicecore/internal/model"

type alignOp int

const (
	opMatch alignOp = iota
	opInsert
	opDelete
)

type alignEntry struct {
	op          alignOp
	origIdx     int
	refinedIdx  int
	refinedRune rune
}

// alignRefinedText maps refinedText's runes onto originalWords'
// character-to-word span via LCS, then interpolates a timestamp per
// refined rune from the nearest matched anchors, and finally
// resegments the result into whitespace-delimited words.
func alignRefinedText(originalWords []model.WordToken, refinedText string) []model.WordToken {
	if len(originalWords) == 0 || refinedText == "" {
		return nil
	}

	var origRunes []rune
	var runeToWord []int
	for i, w := range originalWords {
		for _, r := range w.Text {
			origRunes = append(origRunes, r)
			runeToWord = append(runeToWord, i)
		}
		origRunes = append(origRunes, ' ')
		runeToWord = append(runeToWord, i)
	}
	refinedRunes := []rune(refinedText)

	alignment := computeLCSAlignment(origRunes, refinedRunes)

	type anchor struct {
		refinedIdx int
		start, end float64
	}
	var anchors []anchor
	for _, e := range alignment {
		if e.op == opMatch && e.origIdx >= 0 && e.origIdx < len(runeToWord) {
			wi := runeToWord[e.origIdx]
			anchors = append(anchors, anchor{refinedIdx: e.refinedIdx, start: originalWords[wi].Start, end: originalWords[wi].End})
		}
	}
	if len(anchors) == 0 {
		return nil
	}

	timeAt := func(idx int) float64 {
		var prev, next *anchor
		for i := range anchors {
			if anchors[i].refinedIdx <= idx {
				prev = &anchors[i]
			}
			if anchors[i].refinedIdx >= idx && next == nil {
				next = &anchors[i]
			}
		}
		switch {
		case prev != nil && next != nil && prev.refinedIdx != next.refinedIdx:
			ratio := float64(idx-prev.refinedIdx) / float64(next.refinedIdx-prev.refinedIdx)
			return prev.start + ratio*(next.start-prev.start)
		case prev != nil:
			return prev.end
		case next != nil:
			return next.start
		default:
			return 0
		}
	}

	var words []model.WordToken
	var cur []rune
	var curStartIdx = -1
	flush := func(endIdx int) {
		if len(cur) == 0 {
			return
		}
		start := timeAt(curStartIdx)
		end := timeAt(endIdx)
		if end < start {
			end = start
		}
		words = append(words, model.WordToken{Text: string(cur), Start: start, End: end})
		cur = nil
		curStartIdx = -1
	}

	for _, e := range alignment {
		if e.op == opDelete {
			continue
		}
		r := e.refinedRune
		if r == ' ' || r == '\n' || r == '\t' {
			flush(e.refinedIdx)
			continue
		}
		if curStartIdx == -1 {
			curStartIdx = e.refinedIdx
		}
		cur = append(cur, r)
	}
	flush(len(refinedRunes))
	return words
}

func computeLCSAlignment(a, b []rune) []alignEntry {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	var alignment []alignEntry
	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			alignment = append(alignment, alignEntry{op: opMatch, origIdx: i - 1, refinedIdx: j - 1, refinedRune: b[j-1]})
			i--
			j--
		case j > 0 && (i == 0 || dp[i][j-1] >= dp[i-1][j]):
			alignment = append(alignment, alignEntry{op: opInsert, origIdx: -1, refinedIdx: j - 1, refinedRune: b[j-1]})
			j--
		default:
			alignment = append(alignment, alignEntry{op: opDelete, origIdx: i - 1, refinedIdx: -1})
			i--
		}
	}
	for l, r := 0, len(alignment)-1; l < r; l, r = l+1, r-1 {
		alignment[l], alignment[r] = alignment[r], alignment[l]
	}
	return alignment
}
