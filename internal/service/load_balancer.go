package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// LoadBalancer picks the least loaded backend for the VIP. It keeps no state
// between selections: every call fetches a fresh snapshot, which puts one
// monitoring round trip on the path of every VIP ARP request.
type LoadBalancer struct {
	config     domain.SelectionConfig
	client     domain.ServerStatsClient
	tieBreaker TieBreaker
	metrics    *Metrics
	logger     *logger.Logger
}

// NewLoadBalancer creates a new load balancer. A nil src uses math/rand.
func NewLoadBalancer(
	config domain.SelectionConfig,
	client domain.ServerStatsClient,
	src RandomSource,
	metrics *Metrics,
	log *logger.Logger,
) (*LoadBalancer, error) {
	if client == nil {
		return nil, fmt.Errorf("stats client cannot be nil")
	}
	if config.NoServers == "" {
		config.NoServers = domain.NoServersError
	}
	if config.TieBreak == "" {
		config.TieBreak = domain.TieBreakBounded
	}
	if err := config.Validate(); err != nil {
		return nil, cerrors.WrapError(err, cerrors.ErrCodeInvalidConfig, "load_balancer", "invalid selection config")
	}

	tieBreaker, err := NewTieBreaker(config.TieBreak, src)
	if err != nil {
		return nil, err
	}

	lb := &LoadBalancer{
		config:     config,
		client:     client,
		tieBreaker: tieBreaker,
		metrics:    metrics,
		logger:     log.BalancerLogger(),
	}

	lb.logger.WithField("tie_break", tieBreaker.Name()).
		WithField("no_servers_policy", config.NoServers).
		Info("Load balancer initialized")
	return lb, nil
}

// SelectServer fetches the current snapshot and chooses a server.
// It fails with STATS_RETRIEVAL_FAILED when the snapshot cannot be fetched
// and with NO_SERVERS_AVAILABLE when it is empty, unless the broadcast
// policy is configured.
func (lb *LoadBalancer) SelectServer(ctx context.Context) (*domain.LoadBalancingDecision, error) {
	start := time.Now()
	snapshot, err := lb.client.FetchServers(ctx)
	lb.metrics.ObserveStatsFetch(time.Since(start))
	if err != nil {
		lb.metrics.Selection(SelectionError, "")
		return nil, err
	}

	if len(snapshot) == 0 {
		if lb.config.NoServers == domain.NoServersBroadcast {
			sentinel := domain.BroadcastServer()
			lb.logger.Warn("No servers reported, answering with broadcast sentinel")
			lb.metrics.Selection(SelectionFallback, "")
			return &domain.LoadBalancingDecision{
				Chosen:         sentinel,
				TieBrokenAmong: []domain.ServerRecord{sentinel},
				Fallback:       true,
			}, nil
		}
		lb.metrics.Selection(SelectionError, "")
		return nil, cerrors.NewNoServersError()
	}

	best, tied := LeastLoaded(snapshot)
	chosen := lb.tieBreaker.Pick(best, tied)

	outcome := SelectionUnique
	if len(tied) > 1 {
		outcome = SelectionTieBroken
	}
	lb.metrics.Selection(outcome, chosen.ID)

	lb.logger.WithField("server_id", chosen.ID).
		WithField("mem", chosen.MemLoad).
		WithField("cpu", chosen.CPULoad).
		WithField("tied", len(tied)).
		Debug("Selected server")

	return &domain.LoadBalancingDecision{
		Chosen:         chosen,
		TieBrokenAmong: tied,
	}, nil
}

// LeastLoaded scans the snapshot once and returns the server with the
// lexicographically smallest (mem, cpu) pair together with every server
// sharing that pair. Servers are visited in id order, so best is the
// lowest id among the tied servers. snapshot must not be empty.
func LeastLoaded(snapshot domain.ServerSnapshot) (domain.ServerRecord, []domain.ServerRecord) {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bestMem, bestCPU := math.Inf(1), math.Inf(1)
	var best domain.ServerRecord
	var tied []domain.ServerRecord

	for _, id := range ids {
		rec := snapshot[id]
		switch {
		case len(tied) == 0,
			rec.MemLoad < bestMem,
			rec.MemLoad == bestMem && rec.CPULoad < bestCPU:
			bestMem, bestCPU = rec.MemLoad, rec.CPULoad
			best = rec
			tied = []domain.ServerRecord{rec}
		case rec.MemLoad == bestMem && rec.CPULoad == bestCPU:
			tied = append(tied, rec)
		}
	}
	return best, tied
}
