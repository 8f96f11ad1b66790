package scheduler

import "sort"

// Rotate returns items rotated so that the element keyed resume comes first.
// items must be sorted ascending by key. When no element has the key, the
// rotation starts at the position resume would occupy in that order, so the
// elements that sort after it come first. An empty resume returns a copy of
// items unchanged.
func Rotate[T any](items []T, key func(T) string, resume string) []T {
	out := make([]T, 0, len(items))
	if resume == "" {
		return append(out, items...)
	}

	split := -1
	for i, item := range items {
		if key(item) == resume {
			split = i
			break
		}
	}
	if split < 0 {
		split = sort.Search(len(items), func(i int) bool {
			return key(items[i]) >= resume
		})
	}

	out = append(out, items[split:]...)
	return append(out, items[:split]...)
}
