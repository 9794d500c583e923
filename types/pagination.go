package types

import (
	"time"

	"github.com/firgia/soca/cursor"
	"github.com/firgia/soca/errs"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Page[T any] struct {
	Items    []T      `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}

type PageInfo struct {
	EndCursor   *string `json:"end_cursor"`
	HasNextPage bool    `json:"has_next_page"`
}

// PageArgs is forward-only cursor pagination. After is a
// cursor.Cursor[time.Time] over (id, created_at).
type PageArgs struct {
	First *uint
	After *string
}

func (args PageArgs) Limit() uint {
	if args.First == nil {
		return defaultPageSize
	}
	return *args.First
}

func (args *PageArgs) Validate() error {
	if args.First != nil && *args.First < 1 {
		return errs.NewInvalidArgumentError("first", "first must be greater than 0")
	}

	if args.First != nil && *args.First > maxPageSize {
		return errs.NewInvalidArgumentError("first", "first overflow")
	}

	if args.After != nil {
		if _, err := cursor.Decode[time.Time](*args.After); err != nil {
			return err
		}
	}

	return nil
}
