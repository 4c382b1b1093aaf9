package query

import (
	"fmt"
	"sort"
	"strings"
)

// OrderBy is one sort key for a query result.
type OrderBy struct {
	Key  string `json:"key"`
	Desc bool   `json:"desc"`
}

func (o OrderBy) String() string {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return o.Key + " " + dir
}

// ParseOrderBy accepts "field", "field asc" or "field desc".
func ParseOrderBy(s string) (OrderBy, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return OrderBy{Key: parts[0]}, nil
	case 2:
		switch strings.ToLower(parts[1]) {
		case "asc":
			return OrderBy{Key: parts[0]}, nil
		case "desc":
			return OrderBy{Key: parts[0], Desc: true}, nil
		}
	}
	return OrderBy{}, fmt.Errorf("order_by: cannot parse %q", s)
}

// Comparer orders two raw field values; stores supply a type-aware
// implementation backed by their schema.
type Comparer func(field string, a, b any) int

// Sort performs a stable multi-key sort of raw records. Ties keep
// store-native order.
func Sort(records []map[string]any, orderBy []OrderBy, cmp Comparer) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range orderBy {
			c := cmp(o.Key, records[i][o.Key], records[j][o.Key])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
