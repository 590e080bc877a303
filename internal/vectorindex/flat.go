// Package vectorindex provides an exact nearest-neighbor index over squared Euclidean distance.
package vectorindex

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector does not have the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Padding values returned by Search when fewer than k vectors are stored.
const (
	InvalidIndex    int64   = -1
	InvalidDistance float32 = math.MaxFloat32
)

// Flat stores vectors contiguously and answers k-NN queries with a linear scan.
// Positions are assigned in insertion order starting at 0.
// Flat is not safe for concurrent use; callers serialize access.
type Flat struct {
	dim  int
	data []float32
}

func New(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Dimension() int { return f.dim }

// Size returns the number of stored vectors.
func (f *Flat) Size() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends vectors in order. Either every vector is appended or, on a dimension
// mismatch, none is.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d values, index expects %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Vector returns a copy of the vector stored at pos.
func (f *Flat) Vector(pos int) []float32 {
	v := make([]float32, f.dim)
	copy(v, f.data[pos*f.dim:(pos+1)*f.dim])
	return v
}

// Vectors returns copies of every stored vector in insertion order.
func (f *Flat) Vectors() [][]float32 {
	out := make([][]float32, f.Size())
	for i := range out {
		out[i] = f.Vector(i)
	}
	return out
}

func (f *Flat) Reset() {
	f.data = nil
}

// Truncate drops every vector at position n and beyond.
func (f *Flat) Truncate(n int) {
	if n < f.Size() {
		f.data = f.data[:n*f.dim]
	}
}

// Search returns the k nearest stored vectors to query, ascending by squared distance.
// Both slices always have length k; when fewer than k vectors are stored the tail is
// padded with InvalidIndex and InvalidDistance.
func (f *Flat) Search(query []float32, k int) ([]float32, []int64, error) {
	if len(query) != f.dim {
		return nil, nil, fmt.Errorf("%w: query has %d values, index expects %d", ErrDimensionMismatch, len(query), f.dim)
	}
	if k <= 0 {
		return []float32{}, []int64{}, nil
	}

	h := &neighborHeap{}
	for pos := 0; pos < f.Size(); pos++ {
		d := squaredL2(query, f.data[pos*f.dim:(pos+1)*f.dim])
		n := neighbor{pos: int64(pos), dist: d}
		if h.Len() < k {
			heap.Push(h, n)
		} else if n.closerThan((*h)[0]) {
			(*h)[0] = n
			heap.Fix(h, 0)
		}
	}

	distances := make([]float32, k)
	indices := make([]int64, k)
	for i := range indices {
		distances[i] = InvalidDistance
		indices[i] = InvalidIndex
	}
	for i := h.Len() - 1; i >= 0; i-- {
		n := heap.Pop(h).(neighbor)
		distances[i] = n.dist
		indices[i] = n.pos
	}
	return distances, indices, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

type neighbor struct {
	pos  int64
	dist float32
}

// closerThan orders by distance, then by position so ties favor earlier insertions.
func (n neighbor) closerThan(o neighbor) bool {
	if n.dist != o.dist {
		return n.dist < o.dist
	}
	return n.pos < o.pos
}

// neighborHeap is a max-heap: the root is the worst of the current k candidates.
type neighborHeap []neighbor

func (h neighborHeap) Len() int           { return len(h) }
func (h neighborHeap) Less(i, j int) bool { return h[j].closerThan(h[i]) }
func (h neighborHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *neighborHeap) Push(x interface{}) {
	*h = append(*h, x.(neighbor))
}

func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
