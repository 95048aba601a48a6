package feed

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit          = 100
	MaxLimit              = 100
	DefaultTrendingWindow = 48 * time.Hour
)

// Query is a store-independent description of one feed page.
type Query struct {
	Sort        Sort
	Limit       int
	ContentType string
	// After is the decoded cursor; only items strictly after it in sort order qualify.
	After *Key
	// Since bounds the trending feed to recent items. Zero means unbounded.
	Since time.Time
}

// Admits reports whether an item with key k and contentType belongs in the page.
func (q Query) Admits(k Key, contentType string) bool {
	if q.ContentType != "" && contentType != q.ContentType {
		return false
	}
	if !q.Since.IsZero() && k.CreatedAt.Before(q.Since) {
		return false
	}
	if q.After == nil {
		return true
	}
	if q.Sort == SortTrending {
		return k.Score < q.After.Score ||
			(k.Score == q.After.Score && k.CreatedAt.Before(q.After.CreatedAt))
	}
	return k.CreatedAt.Before(q.After.CreatedAt)
}

// Less reports whether a sorts before b.
func (q Query) Less(a, b Key) bool {
	if q.Sort == SortTrending && a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// NextCursor returns the continuation token for a page of n items ending at
// last, or "" when the page is short and the feed is exhausted.
func (q Query) NextCursor(n int, last Key) string {
	if n == 0 || n < q.Limit {
		return ""
	}
	return EncodeCursor(q.Sort, last)
}

// Select applies q to an in-memory collection: filter, order, truncate.
func Select[T any](q Query, items []T, key func(T) Key, contentType func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if q.Admits(key(it), contentType(it)) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return q.Less(key(out[i]), key(out[j]))
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Params are the raw feed request parameters.
type Params struct {
	Sort        string
	Cursor      string
	Limit       string
	ContentType string
}

type Paginator struct {
	DefaultLimit   int
	MaxLimit       int
	TrendingWindow time.Duration
	contentTypes   map[string]struct{}
	now            func() time.Time
}

func NewPaginator(defaultLimit, maxLimit int, trendingWindow time.Duration, contentTypes []string) *Paginator {
	if maxLimit < 1 {
		maxLimit = MaxLimit
	}
	if defaultLimit < 1 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	if trendingWindow <= 0 {
		trendingWindow = DefaultTrendingWindow
	}
	allowed := make(map[string]struct{}, len(contentTypes))
	for _, ct := range contentTypes {
		allowed[ct] = struct{}{}
	}
	return &Paginator{
		DefaultLimit:   defaultLimit,
		MaxLimit:       maxLimit,
		TrendingWindow: trendingWindow,
		contentTypes:   allowed,
		now:            time.Now,
	}
}

// WithClock replaces the time source used for the trending window.
func (p *Paginator) WithClock(now func() time.Time) *Paginator {
	p.now = now
	return p
}

// Build turns raw parameters into a Query. Only a malformed cursor is an error;
// bad limits fall back to the default and unknown content types are ignored.
func (p *Paginator) Build(params Params) (Query, error) {
	q := Query{
		Sort:  ParseSort(params.Sort),
		Limit: p.ClampLimit(params.Limit),
	}

	ct := strings.ToLower(strings.TrimSpace(params.ContentType))
	if _, ok := p.contentTypes[ct]; ok {
		q.ContentType = ct
	}

	if q.Sort == SortTrending {
		q.Since = p.now().Add(-p.TrendingWindow)
	}

	if strings.TrimSpace(params.Cursor) != "" {
		k, err := DecodeCursor(q.Sort, params.Cursor)
		if err != nil {
			return Query{}, fmt.Errorf("cursor: %w", err)
		}
		q.After = &k
	}
	return q, nil
}

func (p *Paginator) ClampLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return p.DefaultLimit
	}
	if n > p.MaxLimit {
		return p.MaxLimit
	}
	return n
}
