package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Target that logs every call it receives.
type recorder struct {
	calls []string
}

func (r *recorder) log(format string, args ...any) *recorder {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return r
}

func (r *recorder) Where(field string, op Operator, value any) *recorder {
	return r.log("where %s %s %v", field, op, value)
}
func (r *recorder) OrderBy(field string, descending bool) *recorder {
	return r.log("order %s desc=%t", field, descending)
}
func (r *recorder) Limit(n int) *recorder       { return r.log("limit %d", n) }
func (r *recorder) LimitToLast(n int) *recorder { return r.log("limitToLast %d", n) }
func (r *recorder) StartAt(v ...any) *recorder  { return r.log("startAt %v", v) }
func (r *recorder) StartAfter(v ...any) *recorder {
	return r.log("startAfter %v", v)
}
func (r *recorder) EndAt(v ...any) *recorder     { return r.log("endAt %v", v) }
func (r *recorder) EndBefore(v ...any) *recorder { return r.log("endBefore %v", v) }

func TestApply_EveryOperatorOnceInOrder(t *testing.T) {
	q := New()
	for i, op := range Operators {
		value := any(i)
		if op == In || op == NotIn || op == ArrayContainsAny {
			value = []int{i}
		}
		q.Where(fmt.Sprintf("f%d", i), op, value)
	}

	r := Apply(q, &recorder{})

	require.Len(t, r.calls, len(Operators))
	for i, op := range Operators {
		want := fmt.Sprintf("where f%d %s %d", i, op, i)
		if op == In || op == NotIn || op == ArrayContainsAny {
			want = fmt.Sprintf("where f%d %s [%d]", i, op, i)
		}
		assert.Equal(t, want, r.calls[i])
	}
}

func TestApply_PreservesMixedOrder(t *testing.T) {
	q := New().
		Limit(5).
		OrderBy("score", true).
		Where("team", Equal, "red").
		StartAfter(10).
		EndBefore(1).
		StartAt(9, "x").
		EndAt(2).
		LimitToLast(3)

	r := Apply(q, &recorder{})

	assert.Equal(t, []string{
		"limit 5",
		"order score desc=true",
		"where team == red",
		"startAfter [10]",
		"endBefore [1]",
		"startAt [9 x]",
		"endAt [2]",
		"limitToLast 3",
	}, r.calls)
}

func TestApply_DropsSetFiltersWithScalarValue(t *testing.T) {
	q := New().
		Where("a", In, "not-a-list").
		Where("b", NotIn, 7).
		Where("c", In, []string{"x"}).
		Where("d", NotIn, [2]int{1, 2}).
		Where("e", ArrayContainsAny, "passed-through").
		Where("f", In, []byte("ab"))

	r := Apply(q, &recorder{})

	assert.Equal(t, []string{
		"where c in [x]",
		"where d not-in [1 2]",
		"where e array-contains-any passed-through",
	}, r.calls)
}

func TestApply_NilQuery(t *testing.T) {
	base := &recorder{}
	assert.Same(t, base, Apply(nil, base))
	assert.Empty(t, base.calls)
}

func TestQuery_OperationsIsACopy(t *testing.T) {
	q := New().Limit(1)
	ops := q.Operations()
	ops[0] = Limit{N: 99}
	assert.Equal(t, Limit{N: 1}, q.Operations()[0])
	assert.Equal(t, 1, q.Len())
}

func TestIsSequence(t *testing.T) {
	assert.True(t, IsSequence([]any{1}))
	assert.True(t, IsSequence([3]string{}))
	assert.False(t, IsSequence(nil))
	assert.False(t, IsSequence("abc"))
	assert.False(t, IsSequence(map[string]int{}))
	assert.False(t, IsSequence([]byte("ab")))
	assert.False(t, IsSequence([4]byte{}))
}
