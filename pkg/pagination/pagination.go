package pagination

import (
	"math"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/apperr"
)

const (
	DefaultSize = 10
	MaxSize     = 100
)

// Sort names a whitelisted sort property and its direction.
type Sort struct {
	Field string
	Desc  bool
}

func (s Sort) Direction() string {
	if s.Desc {
		return "DESC"
	}
	return "ASC"
}

// Request is a zero-based page request.
type Request struct {
	Page int
	Size int
	Sort Sort
}

func (r Request) Limit() int  { return r.Size }
func (r Request) Offset() int { return r.Page * r.Size }

// FromContext reads page, size and sort query parameters. Sort takes the
// form "property,direction"; the property must be one of allowed. Sizes
// above MaxSize are clamped, and page*size must fit in an int32 offset.
func FromContext(c echo.Context, def Sort, allowed ...string) (Request, error) {
	return Parse(c.QueryParam("page"), c.QueryParam("size"), c.QueryParam("sort"), def, allowed...)
}

func Parse(page, size, sort string, def Sort, allowed ...string) (Request, error) {
	req := Request{Size: DefaultSize, Sort: def}
	fields := map[string]string{}

	if page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 0 {
			fields["page"] = "must be a non-negative integer"
		}
		req.Page = n
	}
	if size != "" {
		n, err := strconv.Atoi(size)
		switch {
		case err != nil || n <= 0:
			fields["size"] = "must be a positive integer"
		case n > MaxSize:
			req.Size = MaxSize
		default:
			req.Size = n
		}
	}
	if _, bad := fields["page"]; !bad && req.Page > math.MaxInt32/req.Size {
		fields["page"] = "must not exceed " + strconv.Itoa(math.MaxInt32/req.Size)
	}
	if sort != "" {
		s, ok := parseSort(sort, allowed)
		if !ok {
			fields["sort"] = "must be one of " + strings.Join(allowed, ", ") + " optionally followed by ,asc or ,desc"
		}
		req.Sort = s
	}

	if err := apperr.Validation(fields); err != nil {
		return Request{}, err
	}
	return req, nil
}

func parseSort(raw string, allowed []string) (Sort, bool) {
	prop, dir, _ := strings.Cut(raw, ",")
	prop = strings.TrimSpace(prop)
	s := Sort{Field: prop}

	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc":
	case "desc":
		s.Desc = true
	default:
		return s, false
	}

	for _, a := range allowed {
		if a == prop {
			return s, true
		}
	}
	return s, false
}

// Page is one page of results with the totals needed to navigate.
type Page[T any] struct {
	Items         []T  `json:"items"`
	Page          int  `json:"page"`
	Size          int  `json:"size"`
	TotalElements int  `json:"total_elements"`
	TotalPages    int  `json:"total_pages"`
	HasNext       bool `json:"has_next"`
}

func NewPage[T any](items []T, total int, req Request) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if req.Size > 0 {
		pages = (total + req.Size - 1) / req.Size
	}
	return Page[T]{
		Items:         items,
		Page:          req.Page,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    pages,
		HasNext:       req.Offset()+len(items) < total,
	}
}

// Map converts the items of a page, keeping its metadata.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, len(p.Items))
	for i, it := range p.Items {
		out[i] = fn(it)
	}
	return Page[U]{
		Items:         out,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		HasNext:       p.HasNext,
	}
}
