// Package anchor implements the text-anchored annotation engine: the
// similarity and single-edit diff primitives, the offset tracker that keeps
// anchors aligned with a mutating document, and the exact-match scan used to
// resolve proposed spans.
//
// Everything in this package is pure: it never reads or writes storage and
// never mutates document text.
package anchor

// Similarity returns a crude in-order character-match ratio in [0,1].
//
// It is not an edit distance. The shorter string's characters are matched
// greedily, in order, against the longer string in a single O(n) scan, and
// the result is matched/len(longer). That makes it a cheap drift signal for
// staleness detection, not a text-diff algorithm.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	matched := 0
	si := 0
	for li := 0; li < len(longer) && si < len(shorter); li++ {
		if longer[li] == shorter[si] {
			matched++
			si++
		}
	}

	return float64(matched) / float64(len(longer))
}

// FindChangeStart returns the first index at which oldText and newText
// diverge. If one is a prefix of the other, the shared length is returned.
func FindChangeStart(oldText, newText string) int {
	limit := len(oldText)
	if len(newText) < limit {
		limit = len(newText)
	}
	for i := 0; i < limit; i++ {
		if oldText[i] != newText[i] {
			return i
		}
	}
	return limit
}

// ChangeLength returns the signed net length change between two snapshots:
// positive for insertion, negative for deletion.
func ChangeLength(oldText, newText string) int {
	return len(newText) - len(oldText)
}

// TextChange describes one contiguous edit between two observed snapshots
// of a document. The primitives above assume exactly one such edit occurred
// between observations; two disjoint simultaneous edits will be localized
// incorrectly. Callers keep the observation granularity fine (per keystroke
// or paste event) so that case stays rare.
type TextChange struct {
	Start  int
	Length int
}

// DiffSnapshots computes the single-edit TextChange between two snapshots.
func DiffSnapshots(oldText, newText string) TextChange {
	return TextChange{
		Start:  FindChangeStart(oldText, newText),
		Length: ChangeLength(oldText, newText),
	}
}
