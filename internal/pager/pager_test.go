package pager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves pages keyed by token, "" being the first page.
type fakeProvider struct {
	pages map[string]Page[int]
	calls []string
	fail  map[string]int
}

func (f *fakeProvider) fetch(_ context.Context, token *string) (Page[int], error) {
	key := ""
	if token != nil {
		key = *token
	}
	f.calls = append(f.calls, key)
	if f.fail[key] > 0 {
		f.fail[key]--
		return Page[int]{}, errors.New("throttled")
	}
	return f.pages[key], nil
}

func ptr(s string) *string { return &s }

func TestPager_ConcatenatesAllPages(t *testing.T) {
	f := &fakeProvider{pages: map[string]Page[int]{
		"":   {Items: []int{1, 2}, Next: ptr("t1")},
		"t1": {Items: []int{3}, Next: ptr("t2")},
		"t2": {Items: []int{4, 5}, Next: nil},
	}}

	got, err := Collect(context.Background(), f.fetch)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Equal(t, []string{"", "t1", "t2"}, f.calls, "each page fetched exactly once")
}

func TestPager_EmptyTokenTerminates(t *testing.T) {
	f := &fakeProvider{pages: map[string]Page[int]{
		"": {Items: []int{1}, Next: ptr("")},
	}}

	p := New(f.fetch)
	items, err := p.NextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, items)
	assert.False(t, p.HasMorePages())

	_, err = p.NextPage(context.Background())
	assert.ErrorIs(t, err, ErrNoMorePages)
	assert.Len(t, f.calls, 1)
}

func TestPager_EmptyFirstPage(t *testing.T) {
	f := &fakeProvider{pages: map[string]Page[int]{"": {}}}

	got, err := Collect(context.Background(), f.fetch)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPager_ErrorKeepsToken(t *testing.T) {
	f := &fakeProvider{
		pages: map[string]Page[int]{
			"":   {Items: []int{1}, Next: ptr("t1")},
			"t1": {Items: []int{2}},
		},
		fail: map[string]int{"t1": 1},
	}

	p := New(f.fetch)
	_, err := p.NextPage(context.Background())
	require.NoError(t, err)

	_, err = p.NextPage(context.Background())
	require.Error(t, err)
	require.NotNil(t, p.token)
	assert.Equal(t, "t1", *p.token)

	items, err := p.NextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, items)
	assert.False(t, p.HasMorePages())
	assert.Equal(t, []string{"", "t1", "t1"}, f.calls)
}

func TestPager_CancelledContext(t *testing.T) {
	f := &fakeProvider{pages: map[string]Page[int]{"": {Items: []int{1}}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, f.fetch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.calls)
}
