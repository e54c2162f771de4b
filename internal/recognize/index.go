package recognize

import (
	"fmt"
	"sort"

	"github.com/coder/hnsw"
)

// maxNeighbors is the HNSW graph connectivity parameter.
const maxNeighbors = 16

// IndexedFace is one gallery face held in the in-memory search index.
type IndexedFace struct {
	Identity  string
	ImagePath string
	FaceIndex int
	Embedding []float32
}

// Match is a gallery face ranked against the query.
type Match struct {
	Identity  string  `json:"identity"`
	ImagePath string  `json:"image"`
	FaceIndex int     `json:"face_index"`
	Distance  float64 `json:"distance"`
}

// Index is an in-memory nearest-neighbor index over gallery faces. It is
// rebuilt on every search and not safe for concurrent use.
type Index struct {
	graph *hnsw.Graph[int]
	faces []IndexedFace
	dim   int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	g := hnsw.NewGraph[int]()
	g.M = maxNeighbors
	g.Ml = 1.0 / float64(maxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return &Index{graph: g}
}

// Add inserts a face embedding. All embeddings in one index must share a
// dimension; mismatches are rejected.
func (ix *Index) Add(face IndexedFace) error {
	if len(face.Embedding) == 0 {
		return fmt.Errorf("empty embedding for %s", face.ImagePath)
	}
	if ix.dim != 0 && len(face.Embedding) != ix.dim {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(face.Embedding), ix.dim)
	}
	ix.dim = len(face.Embedding)

	id := len(ix.faces)
	ix.faces = append(ix.faces, face)
	ix.graph.Add(hnsw.MakeNode(id, face.Embedding))
	return nil
}

// Len returns the number of indexed faces.
func (ix *Index) Len() int {
	return len(ix.faces)
}

// Search returns the k nearest faces to the query embedding, sorted by
// ascending cosine distance. Candidate selection is approximate but the
// reported distances are exact. A query whose dimension differs from the
// indexed embeddings is rejected; the underlying graph would panic on it.
func (ix *Index) Search(query []float32, k int) ([]Match, error) {
	if len(ix.faces) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query embedding dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k > len(ix.faces) {
		k = len(ix.faces)
	}

	neighbors := ix.graph.Search(query, k)
	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		face := ix.faces[n.Key]
		matches = append(matches, Match{
			Identity:  face.Identity,
			ImagePath: face.ImagePath,
			FaceIndex: face.FaceIndex,
			Distance:  CosineDistance(query, n.Value),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}
