// Package pagination implements keyset (cursor) pagination over streams of
// entities ordered by an int64 identifier.
package pagination

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Direction selects which side of the cursor a page is read from.
type Direction string

const (
	Forward  Direction = "next"
	Backward Direction = "previous"
)

// ParseDirection accepts "next"/"forward" and "previous"/"prev"/"backward";
// anything else is Forward.
func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "previous", "prev", "backward":
		return Backward
	default:
		return Forward
	}
}

// Keyed is implemented by entities ordered by an integer id.
type Keyed interface {
	Key() int64
}

// Query is the windowed fetch a Source must answer.
type Query struct {
	// AfterID, when set, keeps rows with id > AfterID.
	AfterID *int64
	// BeforeID, when set, keeps rows with id < BeforeID.
	BeforeID *int64
	// Descending orders rows by id descending instead of ascending.
	Descending bool
	Limit      int
}

// Source answers windowed fetches and full counts over one entity stream.
type Source[T Keyed] interface {
	Fetch(ctx context.Context, q Query) ([]T, error)
	Count(ctx context.Context) (int64, error)
}

// Request describes the page wanted by a caller.
type Request struct {
	Cursor    string
	PageSize  int
	Direction Direction
}

// Result is one page. Items are always ascending by id.
type Result[T Keyed] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	PrevCursor string `json:"prev_cursor,omitempty"`
	HasNext    bool   `json:"has_next"`
	HasPrev    bool   `json:"has_prev"`
	PageSize   int    `json:"page_size"`
	TotalCount int64  `json:"total_count"`
}

// EncodeCursor returns the opaque cursor for id.
func EncodeCursor(id int64) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeCursor reverses EncodeCursor. ok is false for empty or malformed input.
func DecodeCursor(cursor string) (id int64, ok bool) {
	if cursor == "" {
		return 0, false
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, false
	}
	id, err = strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ClampPageSize bounds size to [1, MaxPageSize], using DefaultPageSize for
// non-positive input.
func ClampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

// Page reads one page from src. An absent or undecodable cursor starts at
// the beginning (Forward) or the end (Backward) of the stream.
func Page[T Keyed](ctx context.Context, src Source[T], req Request) (Result[T], error) {
	pageSize := ClampPageSize(req.PageSize)
	forward := req.Direction != Backward
	cursorID, hasCursor := DecodeCursor(req.Cursor)

	q := Query{Descending: !forward, Limit: pageSize + 1}
	if hasCursor {
		if forward {
			q.AfterID = &cursorID
		} else {
			q.BeforeID = &cursorID
		}
	}

	items, err := src.Fetch(ctx, q)
	if err != nil {
		return Result[T]{}, fmt.Errorf("fetch page: %w", err)
	}

	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}
	if !forward {
		reverse(items)
	}

	total, err := src.Count(ctx)
	if err != nil {
		return Result[T]{}, fmt.Errorf("count items: %w", err)
	}

	res := Result[T]{
		Items:      items,
		PageSize:   pageSize,
		TotalCount: total,
	}
	if res.Items == nil {
		res.Items = []T{}
	}

	if forward {
		res.HasNext = hasMore
		res.HasPrev = hasCursor
	} else {
		res.HasNext = hasCursor
		res.HasPrev = hasMore
	}

	if len(items) > 0 {
		first, last := items[0].Key(), items[len(items)-1].Key()
		if res.HasNext {
			res.NextCursor = EncodeCursor(last)
		}
		if res.HasPrev {
			res.PrevCursor = EncodeCursor(first)
		}
	} else if hasCursor {
		// Empty window next to a cursor: point back at the cursor itself.
		if forward {
			res.PrevCursor = EncodeCursor(cursorID + 1)
		} else {
			res.NextCursor = EncodeCursor(cursorID - 1)
		}
	}

	return res, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
