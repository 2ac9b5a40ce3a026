package kernelargs

import (
	"fmt"
	"iter"
	"sync/atomic"
)

// MaxArity is the largest number of arguments a List accepts.
const MaxArity = 16

// List is an ordered, fixed-length sequence of kernel arguments consumed exactly once.
//
// Records handed out by All belong to the consumer. Arguments the consumer never
// received are released by the List when iteration stops early or when Discard is
// called. A fully drained List releases nothing.
type List struct {
	items    []Argument
	consumed atomic.Bool
}

// New builds a List from items in declaration order. It panics on more than MaxArity
// items or a nil item.
func New(items ...Argument) *List {
	if len(items) > MaxArity {
		panic(fmt.Sprintf("kernelargs: %d arguments exceed the maximum of %d", len(items), MaxArity))
	}
	for i, it := range items {
		if it == nil {
			panic(fmt.Sprintf("kernelargs: argument %d is nil", i))
		}
	}
	return &List{items: append([]Argument(nil), items...)}
}

// Len is the arity of the list. It does not consume it.
func (l *List) Len() int { return len(l.items) }

// All yields the erased arguments in order. The sequence is single-pass; a second
// iteration panics.
func (l *List) All() iter.Seq[Erased] {
	return func(yield func(Erased) bool) {
		l.claim()
		next := 0
		defer func() { l.releaseFrom(next) }()
		for next < len(l.items) {
			e := l.items[next].Erase()
			next++
			if !yield(e) {
				return
			}
		}
	}
}

// Discard releases every argument of a list that was never iterated.
func (l *List) Discard() {
	if !l.consumed.CompareAndSwap(false, true) {
		return
	}
	l.releaseFrom(0)
}

func (l *List) claim() {
	if !l.consumed.CompareAndSwap(false, true) {
		panic("kernelargs: list already consumed")
	}
}

func (l *List) releaseFrom(i int) {
	for _, it := range l.items[i:] {
		it.Erase().Release()
	}
}
