package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dlog-engine/dlog/internal/term"
)

func TestLiteralConstPositions(t *testing.T) {
	lit := Literal{
		Pred: Predicate{Name: "edge", Arity: 2},
		Args: []Slot{VarSlot(0), ConstSlot(term.Term(5))},
	}
	assert.Equal(t, []int{1}, lit.ConstPositions())
}

func TestLiteralRepeatedVarPairs(t *testing.T) {
	lit := Literal{
		Pred: Predicate{Name: "same", Arity: 3},
		Args: []Slot{VarSlot(0), VarSlot(1), VarSlot(0)},
	}
	assert.Equal(t, [][2]int{{0, 2}}, lit.RepeatedVarPairs())
}

func TestLiteralRepeatedVarPairsNoneDistinct(t *testing.T) {
	lit := Literal{
		Pred: Predicate{Name: "edge", Arity: 2},
		Args: []Slot{VarSlot(0), VarSlot(1)},
	}
	assert.Nil(t, lit.RepeatedVarPairs())
}

func TestLiteralSameVarSequenceAs(t *testing.T) {
	a := Literal{Args: []Slot{VarSlot(0), VarSlot(1)}}
	b := Literal{Args: []Slot{VarSlot(0), VarSlot(1)}}
	c := Literal{Args: []Slot{VarSlot(1), VarSlot(0)}}
	d := Literal{Args: []Slot{VarSlot(0), ConstSlot(term.Term(1))}}

	assert.True(t, a.SameVarSequenceAs(b))
	assert.False(t, a.SameVarSequenceAs(c))
	assert.False(t, a.SameVarSequenceAs(d))
}

func TestLiteralNumVars(t *testing.T) {
	lit := Literal{Args: []Slot{VarSlot(0), VarSlot(1), VarSlot(0), ConstSlot(term.Term(3))}}
	assert.Equal(t, 2, lit.NumVars())
}

func TestRuleRecursive(t *testing.T) {
	tc := Predicate{ID: 1, Name: "tc", Arity: 2}
	edge := Predicate{ID: 2, Name: "edge", Arity: 2}

	recursive := Rule{
		Head: Literal{Pred: tc, Args: []Slot{VarSlot(0), VarSlot(2)}},
		Body: []Literal{
			{Pred: tc, Args: []Slot{VarSlot(0), VarSlot(1)}},
			{Pred: edge, Args: []Slot{VarSlot(1), VarSlot(2)}},
		},
	}
	assert.True(t, recursive.Recursive())

	nonRecursive := Rule{
		Head: Literal{Pred: tc, Args: []Slot{VarSlot(0), VarSlot(1)}},
		Body: []Literal{{Pred: edge, Args: []Slot{VarSlot(0), VarSlot(1)}}},
	}
	assert.False(t, nonRecursive.Recursive())
}

func TestRuleEDBOnly(t *testing.T) {
	edge := Predicate{ID: 1, Name: "edge", Arity: 2, Kind: EDB}
	tc := Predicate{ID: 2, Name: "tc", Arity: 2, Kind: IDB}

	edbOnly := Rule{Body: []Literal{{Pred: edge}}}
	assert.True(t, edbOnly.EDBOnly())

	mixed := Rule{Body: []Literal{{Pred: edge}, {Pred: tc}}}
	assert.False(t, mixed.EDBOnly())
}

func TestPredKindString(t *testing.T) {
	assert.Equal(t, "EDB", EDB.String())
	assert.Equal(t, "IDB", IDB.String())
}

func TestRuleString(t *testing.T) {
	tc := Predicate{Name: "tc", Arity: 2}
	edge := Predicate{Name: "edge", Arity: 2}
	r := Rule{
		Head: Literal{Pred: tc, Args: []Slot{VarSlot(0), VarSlot(1)}},
		Body: []Literal{{Pred: edge, Args: []Slot{VarSlot(0), VarSlot(1)}}},
	}
	assert.Equal(t, "tc(V0, V1) :- edge(V0, V1).", r.String())
}
