// Package store backs the stage-adjacency graph used by pkg/pipeline's
// drawer and internal/autoscaler packages: an in-memory graph.Store keyed by
// stage name, weighted with per-stage timing once a Measure is attached.
package store

import (
	"fmt"
	"sync"

	"github.com/dominikbraun/graph"
)

// CustomStore extends graph.Store with UpdateVertex, letting the autoscaler
// stamp a stage's measured weight onto its vertex after the graph has
// already been built from the pipeline's topology.
type CustomStore[K comparable, T any] interface {
	graph.Store[K, T]
	UpdateVertex(k K, options ...func(*graph.VertexProperties))
}

// vertexEntry bundles a vertex's stored value with the properties
// graph.Graph attaches to it (weight, DOT attributes, ...), so StageStore
// has one map to guard instead of two that must always stay in sync.
type vertexEntry[T any] struct {
	value      T
	properties graph.VertexProperties
}

// StageStore is an in-memory, concurrency-safe graph.Store implementation.
// streampipe only ever instantiates it as CustomStore[string, string] — a
// stage name hashed to itself — so every vertex is a pipeline stage and
// every edge a buffer feeding one stage from another; it backs the DAG that
// pkg/pipeline/drawer renders and internal/autoscaler walks to find the
// least-slack path through a pipeline.
type StageStore[K comparable, T any] struct {
	lock     sync.RWMutex
	vertices map[K]*vertexEntry[T]

	// downstream and upstream mirror the direction items actually flow
	// between stages: downstream[producer][consumer] is the buffer edge a
	// stage pushes into, upstream[consumer][producer] the same edge seen
	// from the stage popping out of it. Keeping both directions keeps edge
	// lookups O(1) and lets CreatesCycle walk a stage's predecessors
	// directly instead of scanning the whole edge set.
	downstream map[K]map[K]graph.Edge[K]
	upstream   map[K]map[K]graph.Edge[K]
}

// NewStageStore builds an empty StageStore, ready to back a graph.Graph via
// graph.NewWithStore.
func NewStageStore[K comparable, T any]() CustomStore[K, T] {
	return &StageStore[K, T]{
		vertices:   make(map[K]*vertexEntry[T]),
		downstream: make(map[K]map[K]graph.Edge[K]),
		upstream:   make(map[K]map[K]graph.Edge[K]),
	}
}

func (s *StageStore[K, T]) AddVertex(k K, t T, p graph.VertexProperties) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.vertices[k]; ok {
		return graph.ErrVertexAlreadyExists
	}

	s.vertices[k] = &vertexEntry[T]{value: t, properties: p}

	return nil
}

func (s *StageStore[K, T]) ListVertices() ([]K, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	names := make([]K, 0, len(s.vertices))
	for k := range s.vertices {
		names = append(names, k)
	}

	return names, nil
}

func (s *StageStore[K, T]) VertexCount() (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.vertices), nil
}

func (s *StageStore[K, T]) Vertex(k K) (T, graph.VertexProperties, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	entry, ok := s.vertices[k]
	if !ok {
		var zero T
		return zero, graph.VertexProperties{}, graph.ErrVertexNotFound
	}

	return entry.value, entry.properties, nil
}

// RemoveVertex deletes a stage vertex with no remaining edges. Unlike
// Vertex/ListVertices, this mutates the vertex and edge maps, so it must
// hold the write lock, not a read lock.
func (s *StageStore[K, T]) RemoveVertex(k K) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.vertices[k]; !ok {
		return graph.ErrVertexNotFound
	}

	if edges, ok := s.upstream[k]; ok {
		if len(edges) > 0 {
			return graph.ErrVertexHasEdges
		}
		delete(s.upstream, k)
	}

	if edges, ok := s.downstream[k]; ok {
		if len(edges) > 0 {
			return graph.ErrVertexHasEdges
		}
		delete(s.downstream, k)
	}

	delete(s.vertices, k)

	return nil
}

func (s *StageStore[K, T]) AddEdge(producer, consumer K, edge graph.Edge[K]) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.downstream[producer] == nil {
		s.downstream[producer] = make(map[K]graph.Edge[K])
	}
	s.downstream[producer][consumer] = edge

	if s.upstream[consumer] == nil {
		s.upstream[consumer] = make(map[K]graph.Edge[K])
	}
	s.upstream[consumer][producer] = edge

	return nil
}

// UpdateVertex applies options to k's stored properties. It mutates
// vertices in place, so — like RemoveVertex — it needs the write lock.
func (s *StageStore[K, T]) UpdateVertex(k K, options ...func(*graph.VertexProperties)) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entry, ok := s.vertices[k]
	if !ok {
		return
	}

	for _, opt := range options {
		opt(&entry.properties)
	}
}

func (s *StageStore[K, T]) UpdateEdge(producer, consumer K, edge graph.Edge[K]) error {
	if _, err := s.Edge(producer, consumer); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.downstream[producer][consumer] = edge
	s.upstream[consumer][producer] = edge

	return nil
}

func (s *StageStore[K, T]) RemoveEdge(producer, consumer K) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.upstream[consumer], producer)
	delete(s.downstream[producer], consumer)

	return nil
}

func (s *StageStore[K, T]) Edge(producer, consumer K) (graph.Edge[K], error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	producerEdges, ok := s.downstream[producer]
	if !ok {
		return graph.Edge[K]{}, graph.ErrEdgeNotFound
	}

	edge, ok := producerEdges[consumer]
	if !ok {
		return graph.Edge[K]{}, graph.ErrEdgeNotFound
	}

	return edge, nil
}

func (s *StageStore[K, T]) ListEdges() ([]graph.Edge[K], error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	edges := make([]graph.Edge[K], 0)
	for _, consumers := range s.downstream {
		for _, edge := range consumers {
			edges = append(edges, edge)
		}
	}

	return edges, nil
}

// CreatesCycle reports whether linking producer to consumer would close a
// cycle, by walking upstream from producer looking for consumer. A
// pipeline's own topology is always a straight chain, so this path is never
// exercised by drawer/autoscaler directly — it exists only because
// satisfying graph.Store requires it, exactly as graph's own default store
// implements it for any caller that does configure cycle prevention.
func (s *StageStore[K, T]) CreatesCycle(producer, consumer K) (bool, error) {
	if _, _, err := s.Vertex(producer); err != nil {
		return false, fmt.Errorf("store: no vertex %v: %w", producer, err)
	}

	if _, _, err := s.Vertex(consumer); err != nil {
		return false, fmt.Errorf("store: no vertex %v: %w", consumer, err)
	}

	if producer == consumer {
		return true, nil
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	stack := []K{producer}
	visited := make(map[K]struct{})

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[current]; seen {
			continue
		}

		if current == consumer {
			return true, nil
		}

		visited[current] = struct{}{}

		for predecessor := range s.upstream[current] {
			stack = append(stack, predecessor)
		}
	}

	return false, nil
}
