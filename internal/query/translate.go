package query

import "reflect"

// Target is a backend query handle that operations can be folded onto.
// Each method returns a new handle; Q is the backend's own handle type.
type Target[Q any] interface {
	Where(field string, op Operator, value any) Q
	OrderBy(field string, descending bool) Q
	Limit(n int) Q
	LimitToLast(n int) Q
	StartAt(values ...any) Q
	StartAfter(values ...any) Q
	EndAt(values ...any) Q
	EndBefore(values ...any) Q
}

// Apply folds the operations of q onto base in insertion order and returns the
// resulting handle. A nil or empty q returns base unchanged.
//
// In and NotIn filters whose value is not a slice or array are dropped.
// Everything else is passed through as recorded and left for the backend to
// accept or reject.
func Apply[Q Target[Q]](q *Query, base Q) Q {
	out := base
	for _, op := range q.Operations() {
		out = applyOne(op, out)
	}
	return out
}

func applyOne[Q Target[Q]](op Operation, target Q) Q {
	switch o := op.(type) {
	case Filter:
		if (o.Op == In || o.Op == NotIn) && !IsSequence(o.Value) {
			return target
		}
		return target.Where(o.Field, o.Op, o.Value)
	case Order:
		return target.OrderBy(o.Field, o.Descending)
	case Limit:
		return target.Limit(o.N)
	case LimitToLast:
		return target.LimitToLast(o.N)
	case Cursor:
		switch o.Kind {
		case StartAt:
			return target.StartAt(o.Values...)
		case StartAfter:
			return target.StartAfter(o.Values...)
		case EndAt:
			return target.EndAt(o.Values...)
		case EndBefore:
			return target.EndBefore(o.Values...)
		}
	}
	return target
}

// IsSequence reports whether v is a slice or an array. Byte slices are a
// single bytes value, not a sequence.
func IsSequence(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() != reflect.Uint8
	}
	return false
}
