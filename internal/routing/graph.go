// Package routing implements a bidirectional weighted device graph
// with shortest-path route discovery and a chunk-location index.
package routing

import (
	"container/heap"
	"log/slog"
	"math"
	"sync"
)

// Link is a directed edge attribute set; the graph always stores a
// matching pair for (u,v) and (v,u).
type Link struct {
	Quality       float64
	LatencyMs     float64
	BandwidthMbps float64
}

// Route is an ordered device path plus aggregated metrics.
type Route struct {
	Path             []string
	TotalLatencyMs   float64
	MinBandwidthMbps float64
	QualityScore     float64
}

// Graph is the device-to-device adjacency plus the chunk-location
// reverse index.
type Graph struct {
	mu     sync.RWMutex
	logger *slog.Logger

	adjacency map[string]map[string]Link
	locations map[string][]string
}

func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		logger:    logger.With("component", "routing"),
		adjacency: make(map[string]map[string]Link),
		locations: make(map[string][]string),
	}
}

// AddLink writes both (u,v) and (v,u) with matching attributes.
func (g *Graph) AddLink(u, v string, l Link) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureNode(u)
	g.ensureNode(v)
	g.adjacency[u][v] = l
	g.adjacency[v][u] = l
}

func (g *Graph) ensureNode(id string) {
	if _, ok := g.adjacency[id]; !ok {
		g.adjacency[id] = make(map[string]Link)
	}
}

// UpdateLink updates both directions' quality.
func (g *Graph) UpdateLink(u, v string, quality float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.adjacency[u][v]; ok {
		l.Quality = quality
		g.adjacency[u][v] = l
	}
	if l, ok := g.adjacency[v][u]; ok {
		l.Quality = quality
		g.adjacency[v][u] = l
	}
}

// RemoveLink deletes both directions.
func (g *Graph) RemoveLink(u, v string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if adj, ok := g.adjacency[u]; ok {
		delete(adj, v)
	}
	if adj, ok := g.adjacency[v]; ok {
		delete(adj, u)
	}
}

// GetNeighbors lists the keys of device_id's adjacency entry.
func (g *Graph) GetNeighbors(deviceID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	adj, ok := g.adjacency[deviceID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(adj))
	for n := range adj {
		out = append(out, n)
	}
	return out
}

func edgeCost(l Link) float64 {
	return l.LatencyMs + 50*(1-l.Quality)
}

type queueItem struct {
	node string
	cost float64
}

type priorityQueue []queueItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].cost < pq[j].cost }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(queueItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// FindRoute runs Dijkstra on the latency+quality cost function and
// returns the minimum-cost path from source to dest. An empty Path
// means dest is unreachable.
func (g *Graph) FindRoute(source, dest string) Route {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cost := make(map[string]float64)
	prev := make(map[string]string)
	for node := range g.adjacency {
		cost[node] = math.Inf(1)
	}
	cost[source] = 0

	pq := &priorityQueue{{node: source, cost: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(queueItem)
		u := item.node
		if u == dest {
			break
		}
		if item.cost > cost[u] {
			continue
		}
		for v, link := range g.adjacency[u] {
			newCost := cost[u] + edgeCost(link)
			if newCost < cost[v] {
				cost[v] = newCost
				prev[v] = u
				heap.Push(pq, queueItem{node: v, cost: newCost})
			}
		}
	}

	if _, reached := prev[dest]; !reached && dest != source {
		return Route{MinBandwidthMbps: math.Inf(1), QualityScore: 1.0}
	}

	path := []string{dest}
	current := dest
	for current != source {
		p, ok := prev[current]
		if !ok {
			break
		}
		path = append([]string{p}, path...)
		current = p
	}

	route := Route{Path: path, MinBandwidthMbps: math.Inf(1), QualityScore: 1.0}
	for i := 0; i < len(path)-1; i++ {
		link := g.adjacency[path[i]][path[i+1]]
		route.TotalLatencyMs += link.LatencyMs
		route.MinBandwidthMbps = math.Min(route.MinBandwidthMbps, link.BandwidthMbps)
		route.QualityScore *= link.Quality
	}
	return route
}

// RegisterChunkLocation records a flat reverse index, overwriting any
// previous entry for hash (idempotent under retry).
func (g *Graph) RegisterChunkLocation(hash string, deviceIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locations[hash] = append([]string{}, deviceIDs...)
}

// ResolveChunkLocations reads the reverse index for hash.
func (g *Graph) ResolveChunkLocations(hash string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.locations[hash]
}
