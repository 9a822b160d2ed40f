package repository

import "context"

// MaxPageSize caps every list query, like the hosted store the dashboard
// grew up on. Callers needing more go through FetchAll.
const MaxPageSize = 1000

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// FetchAll pages through fetch until a short page, concatenating results in
// the order the pages return them.
func FetchAll[T any](ctx context.Context, pageSize int, fetch func(ctx context.Context, offset, limit int) ([]T, error)) ([]T, error) {
	pageSize = clampLimit(pageSize)
	var out []T
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}
