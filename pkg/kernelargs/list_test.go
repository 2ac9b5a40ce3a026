package kernelargs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	releases []int
}

func (c *counter) list(n int) *List {
	c.releases = make([]int, n)
	args := make([]Argument, n)
	for i := range args {
		args[i] = Owned(Value(int32(i)), func() { c.releases[i]++ })
	}
	return New(args...)
}

func TestListLen(t *testing.T) {
	for _, n := range []int{0, 1, 5, MaxArity} {
		var c counter
		l := c.list(n)
		assert.Equal(t, n, l.Len())
		l.Discard()
		assert.Equal(t, n, l.Len(), "length is static")
	}
}

func TestListArityLimit(t *testing.T) {
	args := make([]Argument, MaxArity+1)
	for i := range args {
		args[i] = Value(uint8(i))
	}
	assert.Panics(t, func() { New(args...) })
	assert.Panics(t, func() { New(Value(1.0), nil) })
}

func TestListFullDrain(t *testing.T) {
	var c counter
	l := c.list(4)

	var got []int32
	for e := range l.All() {
		got = append(got, *(*int32)(e.Ptr))
	}
	assert.Equal(t, []int32{0, 1, 2, 3}, got, "declaration order")
	assert.Equal(t, []int{0, 0, 0, 0}, c.releases, "drained list releases nothing")

	l.Discard()
	assert.Equal(t, []int{0, 0, 0, 0}, c.releases)
}

func TestListEarlyStop(t *testing.T) {
	var c counter
	l := c.list(5)

	taken := 0
	for e := range l.All() {
		taken++
		e.Release()
		if taken == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 1, 1, 1, 1}, c.releases, "each argument released exactly once")
}

func TestListConsumerPanics(t *testing.T) {
	var c counter
	l := c.list(3)

	assert.Panics(t, func() {
		for range l.All() {
			panic("consumer failure")
		}
	})
	assert.Equal(t, []int{0, 1, 1}, c.releases, "the yielded record stays with the consumer")
}

func TestListSinglePass(t *testing.T) {
	var c counter
	l := c.list(2)
	for range l.All() {
	}
	assert.Panics(t, func() {
		for range l.All() {
		}
	})
}

func TestListDiscard(t *testing.T) {
	var c counter
	l := c.list(3)
	l.Discard()
	l.Discard()
	require.Equal(t, []int{1, 1, 1}, c.releases)
	assert.Panics(t, func() {
		for range l.All() {
		}
	})
}
