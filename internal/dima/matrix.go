// Package dima builds complete driving duration/distance matrices over
// arbitrary point sets, tolerating pairs the road network cannot connect.
package dima

import (
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
)

// Matrix is a pairwise driving duration/distance table over an indexed
// point set. Pairs in different road-network components have no entry.
type Matrix struct {
	points  []domain.LatLng
	index   map[domain.LatLng]int
	entries map[[2]int]ports.DistanceResult

	// components partitions point indexes by mutual reachability; len > 1
	// means the input spans disconnected regions.
	components [][]int
}

func newMatrix(points []domain.LatLng) *Matrix {
	m := &Matrix{
		points:  points,
		index:   make(map[domain.LatLng]int, len(points)),
		entries: make(map[[2]int]ports.DistanceResult, len(points)*len(points)),
	}
	for i, p := range points {
		m.index[p] = i
		// Self pairs are free.
		m.entries[[2]int{i, i}] = ports.DistanceResult{Status: ports.StatusOK}
	}
	return m
}

// Points returns the indexed point set.
func (m *Matrix) Points() []domain.LatLng { return m.points }

// Components returns the reachability partition of point indexes.
func (m *Matrix) Components() [][]int { return m.components }

// Len reports how many entries the matrix holds, self pairs included.
func (m *Matrix) Len() int { return len(m.entries) }

// Get returns the entry for an index pair.
func (m *Matrix) Get(from, to int) (ports.DistanceResult, bool) {
	r, ok := m.entries[[2]int{from, to}]
	return r, ok
}

// Between returns the entry for a location pair.
func (m *Matrix) Between(origin, destination domain.LatLng) (ports.DistanceResult, bool) {
	i, ok := m.index[origin]
	if !ok {
		return ports.DistanceResult{}, false
	}
	j, ok := m.index[destination]
	if !ok {
		return ports.DistanceResult{}, false
	}
	return m.Get(i, j)
}

// IndexOf returns the matrix index of a point.
func (m *Matrix) IndexOf(p domain.LatLng) (int, bool) {
	i, ok := m.index[p]
	return i, ok
}

func (m *Matrix) set(from, to int, r ports.DistanceResult) {
	m.entries[[2]int{from, to}] = r
}
