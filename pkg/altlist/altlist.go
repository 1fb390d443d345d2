// Package altlist interleaves several sequences round-robin.
package altlist

import (
	"iter"
	"slices"
)

// List is a lazy round-robin over its inputs. Each pass yields one element
// from every input that is not yet exhausted, in input order; iteration ends
// once all inputs are exhausted.
//
// A List is restartable if and only if all of its inputs are: every call to
// All starts fresh pull state for each input.
type List[T any] struct {
	seqs []iter.Seq[T]
}

// New creates a List over seqs. Inputs may be infinite.
func New[T any](seqs ...iter.Seq[T]) *List[T] {
	return &List[T]{seqs: slices.Clone(seqs)}
}

// FromSlices creates a List over slices.
func FromSlices[T any](ss ...[]T) *List[T] {
	seqs := make([]iter.Seq[T], len(ss))
	for i, s := range ss {
		seqs[i] = slices.Values(s)
	}
	return New(seqs...)
}

// All returns the interleaved sequence.
func (l *List[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		type input struct {
			next func() (T, bool)
			done bool
		}

		inputs := make([]input, len(l.seqs))
		for i, seq := range l.seqs {
			next, stop := iter.Pull(seq)
			defer stop()
			inputs[i] = input{next: next}
		}

		live := len(inputs)
		for live > 0 {
			for i := range inputs {
				in := &inputs[i]
				if in.done {
					continue
				}
				v, ok := in.next()
				if !ok {
					in.done = true
					live--
					continue
				}
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Collect drains the list into a slice. It does not return for infinite
// inputs.
func (l *List[T]) Collect() []T {
	return slices.Collect(l.All())
}

// Take returns at most n elements of the list.
func (l *List[T]) Take(n int) []T {
	out := make([]T, 0, n)
	if n <= 0 {
		return out
	}
	for v := range l.All() {
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out
}
