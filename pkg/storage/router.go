package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/scalebridge/internal/logger"
)

// Policy names the primary backend and the ordered fallbacks for one
// classification.
type Policy struct {
	Primary   string
	Fallbacks []string
}

// order returns the distinct candidate backends, primary first. A backend
// never appears twice, so a failed primary is never retried as a fallback.
func (p Policy) order() []string {
	seen := map[string]bool{}
	out := make([]string, 0, 1+len(p.Fallbacks))
	for _, name := range append([]string{p.Primary}, p.Fallbacks...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// DefaultPolicies is the routing table used when configuration supplies
// none: relational storage for discrete weighings with time-series failover,
// the time-series store for continuous data with archive failover.
func DefaultPolicies() map[Classification]Policy {
	return map[Classification]Policy{
		ClassDiscrete:      {Primary: "relational", Fallbacks: []string{"time_series", "archive"}},
		ClassTimeSeries:    {Primary: "time_series", Fallbacks: []string{"archive"}},
		ClassConfiguration: {Primary: "relational", Fallbacks: []string{"archive"}},
	}
}

// Router classifies readings and writes them through the policy table with
// failover.
type Router struct {
	mu       sync.RWMutex
	repos    map[string]Repository
	policies map[Classification]Policy
	observer Observer
	rng      *rand.Rand
}

// NewRouter builds a router over the given backends. A nil policies map
// selects DefaultPolicies.
func NewRouter(repos []Repository, policies map[Classification]Policy) *Router {
	if policies == nil {
		policies = DefaultPolicies()
	}
	byName := make(map[string]Repository, len(repos))
	for _, r := range repos {
		byName[r.Name()] = r
	}
	return &Router{
		repos:    byName,
		policies: policies,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetObserver registers the write outcome observer.
func (rt *Router) SetObserver(o Observer) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.observer = o
}

// Repository returns a backend by name.
func (rt *Router) Repository(name string) (Repository, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	repo, ok := rt.repos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return repo, nil
}

// Backends returns the names of all registered backends, sorted.
func (rt *Router) Backends() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	names := make([]string, 0, len(rt.repos))
	for name := range rt.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rt *Router) observe(backend string, latency time.Duration, err error) {
	rt.mu.RLock()
	o := rt.observer
	rt.mu.RUnlock()
	if o != nil {
		o.Observe(backend, latency, err)
	}
}

// candidates resolves the eligible backends for a classification, in policy
// order. Backends that are not connected and healthy are skipped.
func (rt *Router) candidates(ctx context.Context, class Classification) ([]Repository, error) {
	rt.mu.RLock()
	policy, ok := rt.policies[class]
	rt.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPolicy, class)
	}

	var out []Repository
	for _, name := range policy.order() {
		rt.mu.RLock()
		repo, ok := rt.repos[name]
		rt.mu.RUnlock()
		if !ok {
			continue
		}
		if !repo.Health(ctx).Eligible() {
			continue
		}
		out = append(out, repo)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEligibleBackend, class)
	}
	return out, nil
}

// Route validates, classifies and writes one reading, failing over along the
// policy chain. It returns the backend that accepted the write.
func (rt *Router) Route(ctx context.Context, r *Reading) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	class := Classify(r)
	repos, err := rt.candidates(ctx, class)
	if err != nil {
		return "", err
	}

	// Each attempted backend keeps its own error so a total failure
	// reports the full chain, not just the last stop.
	attempts := make([]error, 0, len(repos))
	for _, repo := range repos {
		start := time.Now()
		err := repo.Write(ctx, r)
		rt.observe(repo.Name(), time.Since(start), err)
		if err == nil {
			return repo.Name(), nil
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", repo.Name(), err))
		logger.Warn("backend write failed, trying next",
			logger.Backend(repo.Name()),
			logger.Classification(class),
			logger.Err(err),
		)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %s: %w", ErrAllBackendsFailed, class, errors.Join(attempts...))
}

// BackendBatch aggregates the batch outcome for one backend.
type BackendBatch struct {
	Attempted int
	Written   int
	Duration  time.Duration
	Errors    []string
}

// BatchResult is the outcome of RouteBatch.
type BatchResult struct {
	Total      int
	Written    int
	Failed     int
	PerBackend map[string]BackendBatch
}

// RouteBatch writes a batch of readings, grouping them per backend so each
// backend receives one batched write. An empty batch succeeds trivially.
// On context cancellation the partial result achieved so far is returned
// along with the context error.
func (rt *Router) RouteBatch(ctx context.Context, rs []*Reading) (BatchResult, error) {
	result := BatchResult{Total: len(rs), PerBackend: make(map[string]BackendBatch)}
	if len(rs) == 0 {
		return result, nil
	}

	// Group readings by their first eligible backend.
	groups := make(map[string][]*Reading)
	order := make([]string, 0)
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			result.Failed++
			continue
		}
		repos, err := rt.candidates(ctx, Classify(r))
		if err != nil {
			result.Failed++
			continue
		}
		name := repos[0].Name()
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], r)
	}

	for _, name := range order {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		batch := groups[name]
		repo, err := rt.Repository(name)
		if err != nil {
			result.Failed += len(batch)
			continue
		}

		agg := result.PerBackend[name]
		agg.Attempted += len(batch)

		start := time.Now()
		written, err := repo.WriteBatch(ctx, batch)
		elapsed := time.Since(start)
		rt.observe(name, elapsed, err)

		agg.Duration += elapsed
		agg.Written += written
		result.Written += written
		if err != nil {
			agg.Errors = append(agg.Errors, err.Error())
			remaining := batch[written:]
			retried := rt.retryBatch(ctx, name, remaining, &result)
			result.Failed += len(remaining) - retried
		}
		result.PerBackend[name] = agg
	}
	return result, nil
}

// retryBatch pushes readings that failed on their first backend down the
// fallback chain, one backend at a time. Returns how many were written.
func (rt *Router) retryBatch(ctx context.Context, failed string, rs []*Reading, result *BatchResult) int {
	written := 0
	for _, r := range rs {
		if ctx.Err() != nil {
			return written
		}
		repos, err := rt.candidates(ctx, Classify(r))
		if err != nil {
			continue
		}
		for _, repo := range repos {
			if repo.Name() == failed {
				continue
			}
			start := time.Now()
			err := repo.Write(ctx, r)
			elapsed := time.Since(start)
			rt.observe(repo.Name(), elapsed, err)
			if err == nil {
				agg := result.PerBackend[repo.Name()]
				agg.Attempted++
				agg.Written++
				agg.Duration += elapsed
				result.PerBackend[repo.Name()] = agg
				result.Written++
				written++
				break
			}
		}
	}
	return written
}

// BackendScore is one ranked backend inside a Recommendation.
type BackendScore struct {
	Backend string
	Score   float64
	Primary bool
}

// Recommendation is the routing advice for one classification: the best
// healthy backend, the ranked remainder, and an estimate of how the pick
// will perform based on its last health probe.
type Recommendation struct {
	Primary   string
	Secondary []string

	// Confidence is the winner's score as a fraction of the maximum
	// achievable score, on a 0-100 scale.
	Confidence float64

	// PerformanceEstimate is the winner's last probed latency in
	// milliseconds.
	PerformanceEstimate float64

	Scores []BackendScore
}

// maxRecommendScore is a policy-primary, connected backend with full jitter.
const maxRecommendScore = 160.0

// Recommend scores the healthy backends for a classification: the policy
// primary earns 100 points, a connected backend 50, plus up to 10 points
// of jitter to spread load between equally ranked fallbacks. Backends
// whose last health probe failed are not candidates at all.
func (rt *Router) Recommend(ctx context.Context, class Classification) Recommendation {
	rt.mu.RLock()
	policy, ok := rt.policies[class]
	rt.mu.RUnlock()
	if !ok {
		return Recommendation{}
	}

	var (
		scores  []BackendScore
		latency = map[string]float64{}
	)
	for _, name := range policy.order() {
		rt.mu.RLock()
		repo, ok := rt.repos[name]
		rt.mu.RUnlock()
		if !ok {
			continue
		}
		h := repo.Health(ctx)
		if !h.Healthy {
			continue
		}

		score := 0.0
		if name == policy.Primary {
			score += 100
		}
		if h.Connected {
			score += 50
		}
		rt.mu.Lock()
		score += rt.rng.Float64() * 10
		rt.mu.Unlock()

		latency[name] = h.LatencyMs
		scores = append(scores, BackendScore{
			Backend: name,
			Score:   score,
			Primary: name == policy.Primary,
		})
	}
	if len(scores) == 0 {
		return Recommendation{}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	rec := Recommendation{
		Primary:             scores[0].Backend,
		Confidence:          100 * scores[0].Score / maxRecommendScore,
		PerformanceEstimate: latency[scores[0].Backend],
		Scores:              scores,
	}
	for _, s := range scores[1:] {
		rec.Secondary = append(rec.Secondary, s.Backend)
	}
	return rec
}

// HealthSnapshot returns the health of every backend.
func (rt *Router) HealthSnapshot(ctx context.Context) map[string]Health {
	rt.mu.RLock()
	repos := make([]Repository, 0, len(rt.repos))
	for _, r := range rt.repos {
		repos = append(repos, r)
	}
	rt.mu.RUnlock()

	out := make(map[string]Health, len(repos))
	for _, r := range repos {
		out[r.Name()] = r.Health(ctx)
	}
	return out
}
