package feed

// BoostFollowed moves items by followed authors ahead of the rest, keeping the
// original relative order inside both groups. It only reorders the given page.
func BoostFollowed[T any](items []T, followed func(T) bool) []T {
	out := make([]T, 0, len(items))
	rest := make([]T, 0, len(items))
	for _, it := range items {
		if followed(it) {
			out = append(out, it)
		} else {
			rest = append(rest, it)
		}
	}
	return append(out, rest...)
}
