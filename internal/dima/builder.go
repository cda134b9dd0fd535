package dima

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/runctx"
)

type edge [2]int

// component is a subgraph of points believed mutually reachable, plus the
// directed pairs still missing a matrix value.
type component struct {
	nodes     map[int]struct{}
	remaining map[edge]struct{}
	failures  map[int]int
}

func (c *component) nodeList() []int {
	out := make([]int, 0, len(c.nodes))
	for n := range c.nodes {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Builder produces a complete duration/distance matrix for a point set by
// decomposing it into multi-leg direction requests. Points the provider
// cannot connect end up in separate components instead of failing the
// whole build.
type Builder struct {
	provider ports.DistanceProvider
	sctx     *runctx.SolveContext
}

func NewBuilder(provider ports.DistanceProvider, sctx *runctx.SolveContext) *Builder {
	return &Builder{provider: provider, sctx: sctx}
}

// Build runs the round loop of §chain requests until every component's
// pair set is complete, then tries to merge components via single-pair
// probes. Callers must check len(Matrix.Components()) to detect
// disconnected inputs.
func (b *Builder) Build(ctx context.Context, points []domain.LatLng) (_ *Matrix, err error) {
	cfg := b.sctx.Config.Matrix
	logger := b.sctx.Logger.Named("dima")
	defer obs.Time(logger, "dima.build")(&err)

	m := newMatrix(points)
	if len(points) < 2 {
		m.components = [][]int{allIndexes(len(points))}
		return m, nil
	}

	comps := []*component{fullComponent(len(points))}

	prevRemaining := -1
	stall := 0
	for round := 1; round <= cfg.MaxRounds; round++ {
		if err := b.fillFromCache(ctx, m, comps); err != nil {
			return nil, err
		}

		rem := totalRemaining(comps)
		logger.Debug("matrix round",
			zap.Int("round", round),
			zap.Int("components", len(comps)),
			zap.Int("remaining", rem))

		if rem == 0 {
			if len(comps) <= 1 {
				break
			}
			merged, err := b.mergeComponents(ctx, m, &comps)
			if err != nil {
				return nil, err
			}
			if !merged {
				break
			}
			continue
		}

		if err := b.runChainRound(ctx, m, comps); err != nil {
			return nil, err
		}

		// Stop when provider errors keep the edge count from shrinking.
		newRem := totalRemaining(comps)
		if prevRemaining >= 0 && newRem >= prevRemaining {
			stall++
			if stall >= cfg.StallRounds {
				logger.Warn("matrix build stalled",
					zap.Int("round", round),
					zap.Int("remaining", newRem))
				break
			}
		} else {
			stall = 0
		}
		prevRemaining = newRem

		comps = b.splitMostFailed(m, comps)
	}

	b.dropUnfinished(m, comps)
	m.components = finalComponents(comps)
	return m, nil
}

// fillFromCache resolves remaining pairs from the run's distance cache
// before spending provider requests.
func (b *Builder) fillFromCache(ctx context.Context, m *Matrix, comps []*component) error {
	type pending struct {
		comp *component
		e    edge
	}
	keys := make([]string, 0, 64)
	byKey := make(map[string][]pending)
	for _, c := range comps {
		for e := range c.remaining {
			key := domain.Key(m.points[e[0]], m.points[e[1]])
			if _, ok := byKey[key]; !ok {
				keys = append(keys, key)
			}
			byKey[key] = append(byKey[key], pending{comp: c, e: e})
		}
	}
	if len(keys) == 0 {
		return nil
	}

	hits, err := b.sctx.Cache.GetMany(ctx, keys)
	if err != nil {
		return fmt.Errorf("dima: cache lookup: %w", err)
	}
	for key, value := range hits {
		if value.Status != ports.StatusOK {
			continue
		}
		for _, p := range byKey[key] {
			m.set(p.e[0], p.e[1], value)
			delete(p.comp.remaining, p.e)
		}
	}
	return nil
}

type legResult struct {
	from, to int
	value    ports.DistanceResult
}

type chainOutcome struct {
	legs   []legResult
	failed []int // chain nodes of a failed request
}

// runChainRound plans chains over every component's remaining edges and
// issues the direction requests concurrently through a bounded pool.
// Results are gathered back before the round ends; the builder state is
// only mutated single-threaded.
func (b *Builder) runChainRound(ctx context.Context, m *Matrix, comps []*component) error {
	cfg := b.sctx.Config.Matrix

	var chains [][]int
	chainComp := map[int]*component{}
	for _, c := range comps {
		for _, chain := range planChains(c, cfg.MaxChainPoints) {
			chainComp[len(chains)] = c
			chains = append(chains, chain)
		}
	}
	if len(chains) == 0 {
		return nil
	}

	outcomes := make([]chainOutcome, len(chains))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxWorkers)
	for i, chain := range chains {
		i, chain := i, chain
		g.Go(func() error {
			outcome, err := b.requestChain(gctx, m, chain)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	for i, outcome := range outcomes {
		c := chainComp[i]
		for _, leg := range outcome.legs {
			m.set(leg.from, leg.to, leg.value)
			delete(c.remaining, edge{leg.from, leg.to})
			key := domain.Key(m.points[leg.from], m.points[leg.to])
			if err := b.sctx.Cache.Set(ctx, key, leg.value, ttl); err != nil {
				b.sctx.Logger.Warn("dima: cache write failed", zap.Error(err))
			}
		}
		for _, n := range outcome.failed {
			c.failures[n]++
		}
	}
	return nil
}

// requestChain issues one multi-leg directions request, bisecting
// recursively when the provider refuses the chain for length. Transient
// and no-route failures are reported through the outcome, not as errors;
// only the request ceiling aborts the build.
func (b *Builder) requestChain(ctx context.Context, m *Matrix, chain []int) (chainOutcome, error) {
	if len(chain) < 2 {
		return chainOutcome{}, nil
	}
	if err := b.sctx.Requests.Track(1); err != nil {
		return chainOutcome{}, err
	}

	pts := make([]domain.LatLng, len(chain))
	for i, n := range chain {
		pts[i] = m.points[n]
	}
	legs, err := b.provider.Directions(ctx, pts[0], pts[len(pts)-1], pts[1:len(pts)-1])
	if err == nil {
		if len(legs) != len(chain)-1 {
			return chainOutcome{failed: chain}, nil
		}
		out := chainOutcome{legs: make([]legResult, len(legs))}
		for i, leg := range legs {
			out.legs[i] = legResult{
				from: chain[i],
				to:   chain[i+1],
				value: ports.DistanceResult{
					DistanceMeters:  leg.DistanceMeters,
					DurationSeconds: leg.DurationSeconds,
					Status:          ports.StatusOK,
					Polyline:        leg.Polyline,
				},
			}
		}
		return out, nil
	}

	if errors.Is(err, ports.ErrRouteTooLong) && len(chain) > 2 {
		mid := len(chain) / 2
		left, lerr := b.requestChain(ctx, m, chain[:mid+1])
		if lerr != nil {
			return chainOutcome{}, lerr
		}
		right, rerr := b.requestChain(ctx, m, chain[mid:])
		if rerr != nil {
			return chainOutcome{}, rerr
		}
		return chainOutcome{
			legs:   append(left.legs, right.legs...),
			failed: append(left.failed, right.failed...),
		}, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return chainOutcome{}, err
	}

	// No-route and transient errors both count as chain failure; the
	// round loop decides between retry and component splitting.
	return chainOutcome{failed: chain}, nil
}

// planChains walks the remaining directed pairs into paths of at most
// maxPoints nodes, each consecutive pair being a wanted edge.
func planChains(c *component, maxPoints int) [][]int {
	todo := make(map[edge]struct{}, len(c.remaining))
	for e := range c.remaining {
		todo[e] = struct{}{}
	}
	outgoing := make(map[int][]int, len(c.nodes))
	for e := range todo {
		outgoing[e[0]] = append(outgoing[e[0]], e[1])
	}
	for _, tos := range outgoing {
		sort.Ints(tos)
	}

	var chains [][]int
	for e := range todo {
		if _, still := todo[e]; !still {
			continue
		}
		chain := []int{e[0], e[1]}
		delete(todo, e)
		seen := map[int]struct{}{e[0]: {}, e[1]: {}}
		for len(chain) < maxPoints {
			last := chain[len(chain)-1]
			next := -1
			for _, to := range outgoing[last] {
				if _, want := todo[edge{last, to}]; !want {
					continue
				}
				if _, dup := seen[to]; dup {
					continue
				}
				next = to
				break
			}
			if next < 0 {
				break
			}
			chain = append(chain, next)
			seen[next] = struct{}{}
			delete(todo, edge{last, next})
		}
		chains = append(chains, chain)
	}
	return chains
}

// splitMostFailed isolates the points whose requests kept failing into new
// components. When every vertex of a component failed (the typical shape
// once only cross-region pairs remain) the component is instead partitioned
// by the pairs the provider did answer, so the split is always a real one.
func (b *Builder) splitMostFailed(m *Matrix, comps []*component) []*component {
	cfg := b.sctx.Config.Matrix

	type failure struct {
		comp  *component
		node  int
		count int
	}
	var failed []failure
	for _, c := range comps {
		for n, count := range c.failures {
			if count > 0 {
				failed = append(failed, failure{comp: c, node: n, count: count})
			}
		}
	}
	if len(failed) == 0 {
		return comps
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].count != failed[j].count {
			return failed[i].count > failed[j].count
		}
		return failed[i].node < failed[j].node
	})
	if len(failed) > cfg.MaxFailedToSplit {
		failed = failed[:cfg.MaxFailedToSplit]
	}

	splitNodes := map[*component]map[int]struct{}{}
	for _, f := range failed {
		if splitNodes[f.comp] == nil {
			splitNodes[f.comp] = map[int]struct{}{}
		}
		splitNodes[f.comp][f.node] = struct{}{}
	}

	out := make([]*component, 0, len(comps)+len(splitNodes))
	for _, c := range comps {
		nodes := splitNodes[c]
		if len(nodes) == 0 {
			c.failures = map[int]int{}
			out = append(out, c)
			continue
		}
		if len(nodes) >= len(c.nodes) {
			// Everything failed; fall back to the answered-pair partition.
			// A single group means the failures look transient, so retry.
			groups := satisfiedGroups(m, c)
			if len(groups) <= 1 {
				c.failures = map[int]int{}
				out = append(out, c)
				continue
			}
			out = append(out, regroup(c, groups)...)
			continue
		}

		fresh := &component{
			nodes:     map[int]struct{}{},
			remaining: map[edge]struct{}{},
			failures:  map[int]int{},
		}
		for n := range nodes {
			fresh.nodes[n] = struct{}{}
			delete(c.nodes, n)
		}
		for e := range c.remaining {
			_, fromSplit := nodes[e[0]]
			_, toSplit := nodes[e[1]]
			switch {
			case fromSplit && toSplit:
				fresh.remaining[e] = struct{}{}
				delete(c.remaining, e)
			case fromSplit || toSplit:
				// Cross edges are dropped; a later merge probe may
				// reconnect the components.
				delete(c.remaining, e)
			}
		}
		c.failures = map[int]int{}
		out = append(out, c)
		out = append(out, fresh)
	}
	return out
}

// satisfiedGroups partitions a component's vertices by the pairs the
// matrix already holds a value for, self pairs excluded. Vertices with no
// answered pair at all end up in their own group.
func satisfiedGroups(m *Matrix, c *component) [][]int {
	nodes := c.nodeList()
	parent := make(map[int]int, len(nodes))
	for _, n := range nodes {
		parent[n] = n
	}
	var find func(int) int
	find = func(n int) int {
		if parent[n] != n {
			parent[n] = find(parent[n])
		}
		return parent[n]
	}
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			if r, ok := m.Get(a, b); ok && r.Status == ports.StatusOK {
				parent[find(a)] = find(b)
				continue
			}
			if r, ok := m.Get(b, a); ok && r.Status == ports.StatusOK {
				parent[find(a)] = find(b)
			}
		}
	}

	byRoot := map[int][]int{}
	for _, n := range nodes {
		root := find(n)
		byRoot[root] = append(byRoot[root], n)
	}
	groups := make([][]int, 0, len(byRoot))
	for _, g := range byRoot {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// regroup replaces a component with one component per group. Pairs inside
// a group stay wanted; cross-group pairs are dropped, since a later merge
// probe can reconnect groups split apart by transient failures.
func regroup(c *component, groups [][]int) []*component {
	groupOf := make(map[int]int, len(c.nodes))
	out := make([]*component, len(groups))
	for gi, g := range groups {
		fresh := &component{
			nodes:     make(map[int]struct{}, len(g)),
			remaining: map[edge]struct{}{},
			failures:  map[int]int{},
		}
		for _, n := range g {
			fresh.nodes[n] = struct{}{}
			groupOf[n] = gi
		}
		out[gi] = fresh
	}
	for e := range c.remaining {
		if gi := groupOf[e[0]]; gi == groupOf[e[1]] {
			out[gi].remaining[e] = struct{}{}
		}
	}
	return out
}

// mergeComponents probes one representative pair per component pair and
// rejoins components shown reachable. Returns whether anything merged.
func (b *Builder) mergeComponents(ctx context.Context, m *Matrix, comps *[]*component) (bool, error) {
	if len(*comps) < 2 {
		return false, nil
	}
	merged := false
	for i := 0; i < len(*comps); i++ {
		for j := i + 1; j < len(*comps); j++ {
			a, c := (*comps)[i], (*comps)[j]
			if err := b.sctx.Requests.Track(1); err != nil {
				return false, err
			}
			probe, err := b.provider.SingleElement(ctx, m.points[a.nodeList()[0]], m.points[c.nodeList()[0]])
			if err != nil {
				continue
			}
			if probe.Status != ports.StatusOK || probe.DurationSeconds == 0 {
				continue
			}

			for an := range a.nodes {
				for cn := range c.nodes {
					a.remaining[edge{an, cn}] = struct{}{}
					a.remaining[edge{cn, an}] = struct{}{}
				}
			}
			for cn := range c.nodes {
				a.nodes[cn] = struct{}{}
			}
			*comps = append((*comps)[:j], (*comps)[j+1:]...)
			j--
			merged = true
		}
	}
	return merged, nil
}

// dropUnfinished removes edges the build gave up on so the matrix only
// reports values it actually has.
func (b *Builder) dropUnfinished(m *Matrix, comps []*component) {
	for _, c := range comps {
		for e := range c.remaining {
			delete(m.entries, [2]int{e[0], e[1]})
			delete(c.remaining, e)
		}
	}
}

func fullComponent(n int) *component {
	c := &component{
		nodes:     make(map[int]struct{}, n),
		remaining: make(map[edge]struct{}, n*n),
		failures:  map[int]int{},
	}
	for i := 0; i < n; i++ {
		c.nodes[i] = struct{}{}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				c.remaining[edge{i, j}] = struct{}{}
			}
		}
	}
	return c
}

func totalRemaining(comps []*component) int {
	total := 0
	for _, c := range comps {
		total += len(c.remaining)
	}
	return total
}

// finalComponents orders components largest first; the caller treats the
// first as "good" when reacting to a disconnected input.
func finalComponents(comps []*component) [][]int {
	out := make([][]int, 0, len(comps))
	for _, c := range comps {
		out = append(out, c.nodeList())
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
