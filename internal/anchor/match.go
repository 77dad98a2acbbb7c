package anchor

import "strings"

// FindUnique scans text for literal occurrences of needle and returns the
// index of the first occurrence plus the total occurrence count.
//
// The anchoring protocol treats anything other than exactly one occurrence
// as a failure: zero means the proposed span does not exist, more than one
// means it is ambiguous and the proposer must expand it. The first-occurrence
// index is still reported so callers running in first-occurrence mode (the
// offset tracker's exact-match resync) can use it directly.
func FindUnique(text, needle string) (start int, count int) {
	if needle == "" {
		return -1, 0
	}
	start = -1
	from := 0
	for {
		i := strings.Index(text[from:], needle)
		if i < 0 {
			break
		}
		abs := from + i
		if count == 0 {
			start = abs
		}
		count++
		// Overlapping occurrences count as distinct ambiguity.
		from = abs + 1
	}
	return start, count
}
