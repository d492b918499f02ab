package term

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDictionaryInternIsStable(t *testing.T) {
	d := NewDictionary()
	a := d.Intern("alice")
	b := d.Intern("bob")
	a2 := d.Intern("alice")

	assert.Equal(t, a, a2)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, d.Len())
}

func TestDictionaryLookupRoundTrip(t *testing.T) {
	d := NewDictionary()
	tm := d.Intern("hello")

	s, ok := d.Lookup(tm)
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func TestDictionaryLookupMiss(t *testing.T) {
	d := NewDictionary()
	_, ok := d.Lookup(Term(999))
	assert.False(t, ok)
}

func TestDictionaryMustLookupFallsBackToID(t *testing.T) {
	d := NewDictionary()
	assert.Equal(t, "#999", d.MustLookup(Term(999)))

	tm := d.Intern("x")
	assert.Equal(t, "x", d.MustLookup(tm))
}

func TestDictionaryConcurrentIntern(t *testing.T) {
	d := NewDictionary()
	var wg sync.WaitGroup
	words := []string{"a", "b", "c", "d", "e"}
	results := make([][]Term, len(words))

	for i, w := range words {
		results[i] = make([]Term, 50)
		wg.Add(1)
		go func(i int, w string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				results[i][j] = d.Intern(w)
			}
		}(i, w)
	}
	wg.Wait()

	for i := range words {
		for j := 1; j < len(results[i]); j++ {
			assert.Equal(t, results[i][0], results[i][j])
		}
	}
	assert.Equal(t, len(words), d.Len())
}

func TestNilTermNeverAssigned(t *testing.T) {
	d := NewDictionary()
	tm := d.Intern("anything")
	assert.NotEqual(t, Nil, tm)
}
