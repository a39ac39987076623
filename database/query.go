package database

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Record is one table row as the backend returns it.
type Record map[string]any

// Rows is a result set.
type Rows []Record

// Condition is an equality filter on one column.
type Condition struct {
	Column string
	Value  any
}

// Eq builds a column = value condition.
func Eq(column string, value any) Condition {
	return Condition{Column: column, Value: value}
}

// Order sorts results by one column, ascending unless Descending is set.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a read. Zero fields leave their clause out.
type Query struct {
	Select string      // projection, "*" when empty
	Where  []Condition // ANDed; conditions with a nil value or nil pointer are skipped
	Order  *Order
	Limit  int
	Single bool // expect exactly one row
}

// Encode renders the query string in the order the clauses are applied:
// projection, filters, ordering, then limit.
func (q Query) Encode() string {
	parts := make([]string, 0, len(q.Where)+3)

	sel := strings.TrimSpace(q.Select)
	if sel == "" {
		sel = "*"
	}
	parts = append(parts, "select="+url.QueryEscape(sel))

	for _, c := range q.Where {
		v, ok := deref(c.Value)
		if !ok || c.Column == "" {
			continue
		}
		parts = append(parts, url.QueryEscape(c.Column)+"=eq."+url.QueryEscape(formatValue(v)))
	}

	if q.Order != nil && q.Order.Column != "" {
		dir := "asc"
		if q.Order.Descending {
			dir = "desc"
		}
		parts = append(parts, "order="+url.QueryEscape(q.Order.Column)+"."+dir)
	}

	if q.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(q.Limit))
	}
	return strings.Join(parts, "&")
}

// deref follows pointers down to the value they hold. It reports false for
// nil and for any nil pointer on the way.
func deref(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	return rv.Interface(), true
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func idFilter(id string) string {
	return "id=eq." + url.QueryEscape(id)
}
