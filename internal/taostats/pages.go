package taostats

import (
	"context"
	"fmt"
)

// PageFunc fetches one page of a listing. Pages are numbered from 1.
type PageFunc[T any] func(ctx context.Context, page int) ([]T, error)

// FetchAll walks pages 1, 2, ... in order and concatenates their items. It
// stops at the first empty page; upstream gives no page count. Any error
// aborts the walk and discards what was collected.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T]) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		items, err := fetch(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}
