// ABOUTME: Client-side iteration over paged listings
// ABOUTME: Stops on an absent token, on the first page's token coming back, or on no progress

package query

import "context"

// PageFunc fetches the page that starts at token ("" for the first page)
type PageFunc[T any] func(ctx context.Context, token string) (items []T, next string, err error)

// Cursor walks a paged listing. A mutating result set can hand back a token
// seen before; the cursor treats the first page's token reappearing as the
// end of the listing.
type Cursor[T any] struct {
	fetch      PageFunc[T]
	firstToken *string
	token      string
	exhausted  bool
}

// NewCursor creates a cursor positioned before the first page
func NewCursor[T any](fetch PageFunc[T]) *Cursor[T] {
	return &Cursor[T]{fetch: fetch}
}

// Done reports whether the listing has been fully consumed
func (c *Cursor[T]) Done() bool {
	return c.exhausted
}

// Next returns the next page. It returns nil, nil once Done.
func (c *Cursor[T]) Next(ctx context.Context) ([]T, error) {
	if c.exhausted {
		return nil, nil
	}

	items, next, err := c.fetch(ctx, c.token)
	if err != nil {
		return nil, err
	}

	switch {
	case next == "":
		c.exhausted = true
	case c.firstToken != nil && next == *c.firstToken:
		c.exhausted = true
	case next == c.token:
		c.exhausted = true
	}

	if c.firstToken == nil {
		c.firstToken = &next
	}
	c.token = next
	return items, nil
}

// Collect drains a listing into one slice
func Collect[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	var out []T
	c := NewCursor(fetch)
	for !c.Done() {
		page, err := c.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
	return out, nil
}
