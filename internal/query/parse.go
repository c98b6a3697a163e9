package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Parse builds a Query from a raw URL query string. Parameters are read in the
// order they appear so the resulting operations keep the caller's order.
//
// Recognised parameters:
//
//	where=field:op:value      value is JSON when it parses as JSON, a string otherwise
//	orderBy=field[:desc]
//	limit=N, limitToLast=N
//	startAt=v, startAfter=v, endAt=v, endBefore=v
//	                          v is a JSON array of cursor values or a single value
//
// Unknown parameters are ignored.
func Parse(rawQuery string) (*Query, error) {
	q := New()
	if rawQuery == "" {
		return q, nil
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, raw, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter name %q: %w", key, err)
		}
		value, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}

		switch key {
		case "where":
			field, rest, ok := strings.Cut(value, ":")
			if !ok {
				return nil, fmt.Errorf("where %q: expected field:op:value", value)
			}
			op, operand, ok := strings.Cut(rest, ":")
			if !ok {
				return nil, fmt.Errorf("where %q: expected field:op:value", value)
			}
			if !Operator(op).Valid() {
				return nil, fmt.Errorf("where %q: unsupported operator %q", value, op)
			}
			q.Where(field, Operator(op), decodeValue(operand))
		case "orderBy":
			field, dir, _ := strings.Cut(value, ":")
			q.OrderBy(field, strings.EqualFold(dir, "desc"))
		case "limit", "limitToLast":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%s must be a positive integer, got %q", key, value)
			}
			if key == "limit" {
				q.Limit(n)
			} else {
				q.LimitToLast(n)
			}
		case "startAt":
			q.StartAt(decodeCursor(value)...)
		case "startAfter":
			q.StartAfter(decodeCursor(value)...)
		case "endAt":
			q.EndAt(decodeCursor(value)...)
		case "endBefore":
			q.EndBefore(decodeCursor(value)...)
		}
	}
	return q, nil
}

func decodeValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func decodeCursor(s string) []any {
	v := decodeValue(s)
	if values, ok := v.([]any); ok {
		return values
	}
	return []any{v}
}
