package orderedset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd_WhenGivenDuplicates_ShouldKeepFirstSeenOrder(t *testing.T) {
	s := New("Dribbling", "Passing", "Dribbling", "Defense", "Passing")
	assert.Equal(t, []string{"Dribbling", "Passing", "Defense"}, s.Items())
	assert.Equal(t, 3, s.Len())
}

func TestContains_ShouldReportMembership(t *testing.T) {
	var s Set[string]
	assert.False(t, s.Contains("x"))
	s.Add("x")
	assert.True(t, s.Contains("x"))
	assert.False(t, s.Contains("X"), "membership is case-sensitive")
}

func TestItems_WhenEmpty_ShouldReturnNonNilSlice(t *testing.T) {
	var s Set[int]
	items := s.Items()
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestItems_ShouldReturnCopy(t *testing.T) {
	s := New(1, 2)
	items := s.Items()
	items[0] = 99
	assert.Equal(t, []int{1, 2}, s.Items())
}

func TestUnion_ShouldDeduplicateAcrossLists(t *testing.T) {
	got := Union([]string{"a", "b"}, nil, []string{"b", "c", "a"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
