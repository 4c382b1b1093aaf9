package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"loom-backend/internal/engine"
	"loom-backend/internal/query"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// Page carries the pagination echoed back in list responses.
type Page struct {
	Number  int
	PerPage int
}

// BuildQuery translates request query parameters into an engine query:
// filter[field]=v and filter[field.op]=v become predicates, sort=-a,b sort
// keys, include=rel1,rel2 relationship selections, page/per_page paging.
func BuildQuery(c *fiber.Ctx, t *engine.Type) (*engine.Query, Page, error) {
	page := Page{Number: 1, PerPage: defaultPerPage}
	q := t.Select()

	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		field, opName := parseFilterKey(inner)
		op, err := query.ParseOp(opName)
		if err != nil {
			return nil, page, &engine.AppError{
				Code:    "INVALID_PAYLOAD",
				Status:  400,
				Message: fmt.Sprintf("Invalid filter operator for %s: %s", field, opName),
			}
		}
		f := t.Schema().Get(field)
		if f == nil {
			return nil, page, &engine.AppError{
				Code:    "UNKNOWN_RESOLVER",
				Status:  400,
				Message: fmt.Sprintf("Unknown filter field: %s", field),
			}
		}
		p, err := buildFilter(field, f.Coerce, op, val)
		if err != nil {
			return nil, page, &engine.AppError{
				Code:    "INVALID_PAYLOAD",
				Status:  400,
				Message: fmt.Sprintf("Invalid filter value for %s: %v", field, err),
			}
		}
		q.Where(p)
	}

	if sortParam := c.Query("sort"); sortParam != "" {
		var orderBy []query.OrderBy
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			o := query.OrderBy{Key: part}
			if strings.HasPrefix(part, "-") {
				o = query.OrderBy{Key: part[1:], Desc: true}
			}
			orderBy = append(orderBy, o)
		}
		q.OrderBy(orderBy...)
	}

	if inc := c.Query("include"); inc != "" {
		for _, name := range strings.Split(inc, ",") {
			q.Select(strings.TrimSpace(name))
		}
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page.Number = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			page.PerPage = v
			if page.PerPage > maxPerPage {
				page.PerPage = maxPerPage
			}
		}
	}
	q.Limit(page.PerPage).Offset((page.Number - 1) * page.PerPage)

	return q, page, q.Err()
}

// parseFilterKey splits "age.gte" into field and operator; a bare field means
// equality.
func parseFilterKey(inner string) (field, op string) {
	if i := strings.LastIndex(inner, "."); i >= 0 {
		return inner[:i], inner[i+1:]
	}
	return inner, query.OpEq
}

func buildFilter(field string, coerce func(any) (any, error), op, raw string) (query.Predicate, error) {
	if op == query.OpIn || op == query.OpNotIn {
		parts := strings.Split(raw, ",")
		values := make([]any, len(parts))
		for i, part := range parts {
			v, err := coerce(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		if op == query.OpIn {
			return query.In(field, values...), nil
		}
		return query.NotIn(field, values...), nil
	}
	v, err := coerce(raw)
	if err != nil {
		return nil, err
	}
	return &query.Conditional{Op: op, Field: field, Value: v}, nil
}
