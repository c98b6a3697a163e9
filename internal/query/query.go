// Package query provides a backend-neutral description of filters, sort orders,
// limits and pagination cursors for collection reads and listeners.
//
// A Query is an ordered list of operations recorded in the order the caller adds
// them. The package performs no validation and never reorders operations:
// combinations the backend does not accept (a cursor with no matching order,
// LimitToLast with no order) are rejected by the backend when the query runs.
//
//	q := query.New().
//		Where("status", query.Equal, "open").
//		OrderBy("createdAt", true).
//		Limit(20)
//
// Operation is a sealed interface; only types in this package implement it, so
// translators can switch over it exhaustively.
package query

// Operator is a filter comparison operator.
type Operator string

// Filter operators. The string values match the Firestore wire operators.
const (
	Equal              Operator = "=="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	LessThan           Operator = "<"
	GreaterThanOrEqual Operator = ">="
	LessThanOrEqual    Operator = "<="
	ArrayContains      Operator = "array-contains"
	ArrayContainsAny   Operator = "array-contains-any"
	In                 Operator = "in"
	NotIn              Operator = "not-in"
)

// Operators lists every supported operator.
var Operators = []Operator{
	Equal, NotEqual, GreaterThan, LessThan, GreaterThanOrEqual, LessThanOrEqual,
	ArrayContains, ArrayContainsAny, In, NotIn,
}

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Operation is one recorded query step.
type Operation interface {
	operation() // seals the interface to this package
}

// Filter restricts results to documents whose Field compares to Value.
// In and NotIn expect Value to be a slice or array.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Order sorts results by Field.
type Order struct {
	Field      string
	Descending bool
}

// Limit keeps the first N results.
type Limit struct {
	N int
}

// LimitToLast keeps the last N results.
type LimitToLast struct {
	N int
}

// CursorKind identifies a pagination anchor.
type CursorKind int

const (
	StartAt CursorKind = iota
	StartAfter
	EndAt
	EndBefore
)

func (k CursorKind) String() string {
	switch k {
	case StartAt:
		return "startAt"
	case StartAfter:
		return "startAfter"
	case EndAt:
		return "endAt"
	case EndBefore:
		return "endBefore"
	default:
		return "unknown"
	}
}

// Cursor anchors pagination at Values, which line up positionally with the
// active Order operations.
type Cursor struct {
	Kind   CursorKind
	Values []any
}

func (Filter) operation()      {}
func (Order) operation()       {}
func (Limit) operation()       {}
func (LimitToLast) operation() {}
func (Cursor) operation()      {}

// Query is an ordered list of operations. The zero value is an empty query.
// Builder methods append to the receiver and return it for chaining.
type Query struct {
	ops []Operation
}

// New returns an empty query.
func New() *Query {
	return &Query{}
}

// Where appends a filter.
func (q *Query) Where(field string, op Operator, value any) *Query {
	return q.add(Filter{Field: field, Op: op, Value: value})
}

// OrderBy appends a sort order.
func (q *Query) OrderBy(field string, descending bool) *Query {
	return q.add(Order{Field: field, Descending: descending})
}

// Limit appends a limit on the number of results taken from the start.
func (q *Query) Limit(n int) *Query {
	return q.add(Limit{N: n})
}

// LimitToLast appends a limit on the number of results taken from the end.
func (q *Query) LimitToLast(n int) *Query {
	return q.add(LimitToLast{N: n})
}

func (q *Query) StartAt(values ...any) *Query {
	return q.add(Cursor{Kind: StartAt, Values: values})
}

func (q *Query) StartAfter(values ...any) *Query {
	return q.add(Cursor{Kind: StartAfter, Values: values})
}

func (q *Query) EndAt(values ...any) *Query {
	return q.add(Cursor{Kind: EndAt, Values: values})
}

func (q *Query) EndBefore(values ...any) *Query {
	return q.add(Cursor{Kind: EndBefore, Values: values})
}

// Operations returns a copy of the recorded operations in insertion order.
func (q *Query) Operations() []Operation {
	if q == nil {
		return nil
	}
	out := make([]Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Len returns the number of recorded operations.
func (q *Query) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ops)
}

func (q *Query) add(op Operation) *Query {
	q.ops = append(q.ops, op)
	return q
}
