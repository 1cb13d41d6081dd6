// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package heap implements generic heap functions
// and an index heap for arena-allocated elements.
package heap

// Indexed is a min-heap of integer handles.
// The handles usually index into a slice owned by
// the caller, and Less compares the elements the
// handles refer to. Keeping only handles in the
// heap means elements can be moved between the
// heap and other queues without copying them.
type Indexed struct {
	// Less reports whether the element
	// behind handle i sorts before j.
	Less func(i, j int) bool

	items []int
}

// Len returns the number of handles in the heap.
func (h *Indexed) Len() int { return len(h.items) }

// Push adds handle i to the heap.
func (h *Indexed) Push(i int) { PushSlice(&h.items, i, h.Less) }

// Pop removes and returns the smallest handle.
// Pop panics if the heap is empty.
func (h *Indexed) Pop() int { return PopSlice(&h.items, h.Less) }

// PopSlice removes the "smallest" element from x
// based on the provided comparison function
// and updates x appropriately to preserve the
// heap invariant.
func PopSlice[T any](x *[]T, less func(x, y T) bool) T {
	ret := (*x)[0]
	(*x)[0], *x = (*x)[len(*x)-1], (*x)[:len(*x)-1]
	if len(*x) > 0 {
		siftDown((*x), 0, less)
	}
	return ret
}

// PushSlice adds item to x while preserving
// the min-heap invariant determined by the
// provided comparison function.
func PushSlice[T any](x *[]T, item T, less func(x, y T) bool) {
	*x = append(*x, item)
	siftUp(*x, len(*x)-1, less)
}

func siftUp[T any](x []T, index int, less func(x, y T) bool) {
	for index > 0 {
		p := (index - 1) / 2
		if !less(x[index], x[p]) {
			break
		}
		x[p], x[index] = x[index], x[p]
		index = p
	}
}

func siftDown[T any](x []T, index int, less func(x, y T) bool) {
	for {
		left := (index * 2) + 1
		right := left + 1
		if left >= len(x) {
			break
		}
		c := left
		if len(x) > right && less(x[right], x[left]) {
			c = right
		}
		if !less(x[c], x[index]) {
			break
		}
		x[c], x[index] = x[index], x[c]
		index = c
	}
}
