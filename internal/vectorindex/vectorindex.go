// Package vectorindex provides an optional HNSW nearest-neighbour index
// (cosine distance) over document embeddings. The ranker in
// internal/repository does not use it. It is never
// authoritative: the hybrid ranker's brute-force scoring is the
// contract's ground truth, and any divergence between this index's top-k
// and brute force is a bug in the index, never in the ranking contract.
package vectorindex

import (
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// Match is one candidate returned by Search: a document id and its
// cosine distance to the query vector.
type Match struct {
	DocumentID int64
	Distance   float32
}

// Index wraps a coder/hnsw graph keyed by document id, for pre-filtering
// semantic-search candidates.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	dims  int
}

// New constructs an empty cosine-distance HNSW index for vectors of the
// given dimensionality.
func New(dimensions int) *Index {
	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.Ml = 0.25
	graph.EfSearch = 20
	return &Index{graph: graph, dims: dimensions}
}

// Add inserts or replaces the vector for documentID.
func (idx *Index) Add(documentID int64, vector []float64) error {
	if len(vector) != idx.dims {
		return fmt.Errorf("vectorindex: dimension mismatch: want %d, got %d", idx.dims, len(vector))
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	node := hnsw.MakeNode(documentID, toFloat32(vector))
	idx.graph.Add(node)
	return nil
}

// Search returns the k nearest documents to query by cosine distance.
// The brute-force ranker in internal/repository remains authoritative;
// this is a pre-filter only.
func (idx *Index) Search(query []float64, k int) ([]Match, error) {
	if len(query) != idx.dims {
		return nil, fmt.Errorf("vectorindex: dimension mismatch: want %d, got %d", idx.dims, len(query))
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil, nil
	}

	q := toFloat32(query)
	nodes := idx.graph.Search(q, k)
	out := make([]Match, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Match{
			DocumentID: n.Key,
			Distance:   idx.graph.Distance(q, n.Value),
		})
	}
	return out, nil
}

// Len reports how many vectors the index currently holds.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph.Len()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// float32Norm is used by tests to assert index vectors stay unit-length
// after the float64->float32 narrowing conversion.
func float32Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}
