package database

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

// GalleryIndex wraps an HNSW graph over a gallery snapshot for
// approximate nearest-template queries. Distances reported by the index are
// recomputed exactly with facematch.EuclideanDistance.
type GalleryIndex struct {
	graph     *hnsw.Graph[string]
	templates map[string]facematch.Embedding
	order     []string // gallery order, for deterministic audits
	mu        sync.RWMutex
}

// NewGalleryIndex creates a new empty index.
func NewGalleryIndex() *GalleryIndex {
	return &GalleryIndex{templates: make(map[string]facematch.Embedding)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with gallery. Every template must have
// the same dimension; on error the index is left empty.
func (h *GalleryIndex) Build(gallery facematch.Gallery) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.templates = make(map[string]facematch.Embedding)
	h.order = nil

	if len(gallery) == 0 {
		return nil
	}

	dim := gallery[0].Embedding.Dim()
	for _, t := range gallery {
		if t.Embedding.Dim() != dim {
			return fmt.Errorf("template %q has dimension %d, index uses %d", t.Identity, t.Embedding.Dim(), dim)
		}
	}

	g := newGraph()
	templates := make(map[string]facematch.Embedding, len(gallery))
	order := make([]string, 0, len(gallery))
	for _, t := range gallery {
		if _, dup := templates[t.Identity]; dup {
			continue
		}
		g.Add(hnsw.MakeNode(t.Identity, t.Embedding.Values()))
		templates[t.Identity] = t.Embedding
		order = append(order, t.Identity)
	}

	h.graph, h.templates, h.order = g, templates, order
	return nil
}

// Neighbor is one search hit.
type Neighbor struct {
	Identity string
	Distance float64
}

// Search finds the k templates nearest to probe, closest first.
func (h *GalleryIndex) Search(probe facematch.Embedding, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if k <= 0 {
		return nil, nil
	}

	nodes := h.graph.Search(probe.Values(), k)
	neighbors := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		emb, ok := h.templates[n.Key]
		if !ok {
			continue
		}
		neighbors = append(neighbors, Neighbor{Identity: n.Key, Distance: facematch.EuclideanDistance(probe, emb)})
	}
	slices.SortStableFunc(neighbors, func(a, b Neighbor) int {
		return compareFloat(a.Distance, b.Distance)
	})
	return neighbors, nil
}

// NearDuplicates lists pairs of distinct identities whose templates are
// closer than threshold. Each pair is reported once, A before B in gallery
// order. Such pairs can be mistaken for one another at login.
func (h *GalleryIndex) NearDuplicates(threshold float64, k int) ([]IdentityPair, error) {
	h.mu.RLock()
	order := slices.Clone(h.order)
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}
	h.mu.RUnlock()

	if k <= 0 {
		k = HNSWSearchMultiplier
	}

	var pairs []IdentityPair
	for i, identity := range order {
		h.mu.RLock()
		emb := h.templates[identity]
		h.mu.RUnlock()

		// One extra neighbour because the template finds itself first.
		neighbors, err := h.Search(emb, k+1)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if n.Distance >= threshold {
				break
			}
			if j := position[n.Identity]; j > i {
				pairs = append(pairs, IdentityPair{A: identity, B: n.Identity, Distance: n.Distance})
			}
		}
	}

	slices.SortStableFunc(pairs, func(a, b IdentityPair) int {
		return compareFloat(a.Distance, b.Distance)
	})
	return pairs, nil
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Len returns the number of indexed templates.
func (h *GalleryIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.templates)
}
