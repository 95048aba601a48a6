package feed

import (
	"context"
)

// Page is one fetched feed page as a client sees it.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// FetchFunc fetches the page after cursor ("" for the first page).
type FetchFunc[T any] func(ctx context.Context, cursor string, limit int) (Page[T], error)

// Walker pages through a feed on the client side. A failed fetch leaves the
// cursor where it was so the same page can be retried.
type Walker[T any] struct {
	fetch  FetchFunc[T]
	limit  int
	cursor string
	done   bool
}

func NewWalker[T any](limit int, fetch FetchFunc[T]) *Walker[T] {
	return &Walker[T]{fetch: fetch, limit: limit}
}

// Next returns the next page. Once the feed is exhausted it returns nil, nil
// and Done reports true.
func (w *Walker[T]) Next(ctx context.Context) ([]T, error) {
	if w.done {
		return nil, nil
	}

	page, err := w.fetch(ctx, w.cursor, w.limit)
	if err != nil {
		return nil, err
	}

	if len(page.Items) < w.limit || page.NextCursor == "" {
		w.done = true
	} else {
		w.cursor = page.NextCursor
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	return page.Items, nil
}

func (w *Walker[T]) Done() bool {
	return w.done
}

func (w *Walker[T]) Cursor() string {
	return w.cursor
}

// Walk visits every page until the feed is exhausted or an error occurs.
func Walk[T any](ctx context.Context, limit int, fetch FetchFunc[T], visit func([]T) error) error {
	w := NewWalker(limit, fetch)
	for !w.Done() {
		items, err := w.Next(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			continue
		}
		if err := visit(items); err != nil {
			return err
		}
	}
	return nil
}
