// Package diff compares two ordered slide-text sequences.
package diff

import "deck-updater/pkg/domain"

// Result holds the texts present only in the old sequence (Removed) and only
// in the new sequence (Added). Each batch keeps the order in which its entries
// occur in the respective input, and each entry records its index there.
type Result struct {
	Added   []domain.Entry `json:"added"`
	Removed []domain.Entry `json:"removed"`
}

// Empty reports whether the sequences were identical.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Compute aligns oldTexts and newTexts on a longest common subsequence and
// returns everything outside that alignment. Matching is positional, so a
// text occurring twice in old and once in new yields exactly one removal.
func Compute(oldTexts, newTexts []string) Result {
	res := Result{
		Added:   make([]domain.Entry, 0),
		Removed: make([]domain.Entry, 0),
	}

	prefix := 0
	for prefix < len(oldTexts) && prefix < len(newTexts) && oldTexts[prefix] == newTexts[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(oldTexts)-prefix && suffix < len(newTexts)-prefix &&
		oldTexts[len(oldTexts)-1-suffix] == newTexts[len(newTexts)-1-suffix] {
		suffix++
	}

	a := oldTexts[prefix : len(oldTexts)-suffix]
	b := newTexts[prefix : len(newTexts)-suffix]
	n, m := len(a), len(b)

	// table[i*(m+1)+j] is the LCS length of a[i:] and b[j:].
	width := m + 1
	table := make([]int, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			} else if down, right := table[(i+1)*width+j], table[i*width+j+1]; down >= right {
				table[i*width+j] = down
			} else {
				table[i*width+j] = right
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			res.Removed = append(res.Removed, domain.Entry{Text: a[i], Position: prefix + i})
			i++
		default:
			res.Added = append(res.Added, domain.Entry{Text: b[j], Position: prefix + j})
			j++
		}
	}
	for ; i < n; i++ {
		res.Removed = append(res.Removed, domain.Entry{Text: a[i], Position: prefix + i})
	}
	for ; j < m; j++ {
		res.Added = append(res.Added, domain.Entry{Text: b[j], Position: prefix + j})
	}

	return res
}
