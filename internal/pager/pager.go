// Package pager turns a token-paginated provider call into a lazy sequence
// of pages, in the shape of the AWS SDK paginators.
package pager

import (
	"context"
	"errors"
)

// ErrNoMorePages is returned by NextPage after the last page.
var ErrNoMorePages = errors.New("pager: no more pages")

// Page is one batch of raw records plus the continuation token.
// A nil or empty Next ends the sequence.
type Page[T any] struct {
	Items []T
	Next  *string
}

// FetchFunc performs one provider call for the given token. The first call
// receives a nil token.
type FetchFunc[T any] func(ctx context.Context, token *string) (Page[T], error)

// Pager walks the pages of a FetchFunc. The only state it keeps between pages
// is the current token, so a failed page can be retried by calling NextPage
// again.
type Pager[T any] struct {
	fetch     FetchFunc[T]
	token     *string
	firstPage bool
	done      bool
}

// New returns a pager positioned before the first page.
func New[T any](fetch FetchFunc[T]) *Pager[T] {
	return &Pager[T]{fetch: fetch, firstPage: true}
}

// HasMorePages reports whether NextPage will call the provider.
func (p *Pager[T]) HasMorePages() bool {
	return !p.done && (p.firstPage || p.token != nil)
}

// NextPage fetches the next page. On error the pager is left where it was.
func (p *Pager[T]) NextPage(ctx context.Context) ([]T, error) {
	if !p.HasMorePages() {
		return nil, ErrNoMorePages
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := p.fetch(ctx, p.token)
	if err != nil {
		return nil, err
	}

	p.firstPage = false
	if page.Next == nil || *page.Next == "" {
		p.token = nil
		p.done = true
	} else {
		next := *page.Next
		p.token = &next
	}
	return page.Items, nil
}

// All drains the pager and returns every record in page order.
func (p *Pager[T]) All(ctx context.Context) ([]T, error) {
	var all []T
	for p.HasMorePages() {
		items, err := p.NextPage(ctx)
		if err != nil {
			return all, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// Collect is shorthand for New(fetch).All(ctx).
func Collect[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	return New(fetch).All(ctx)
}
