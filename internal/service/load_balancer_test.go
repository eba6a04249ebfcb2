package service

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

type stubStatsClient struct {
	snapshot domain.ServerSnapshot
	err      error
	calls    int
}

func (s *stubStatsClient) FetchServers(ctx context.Context) (domain.ServerSnapshot, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

func server(id string, mem, cpu float64) domain.ServerRecord {
	n := len(id)
	return domain.ServerRecord{
		ID:      id,
		MAC:     net.HardwareAddr{0, 0, 0, 0, 0, byte(id[n-1])},
		IP:      net.IPv4(10, 0, 0, byte(id[n-1])).To4(),
		MemLoad: mem,
		CPULoad: cpu,
	}
}

func snapshotOf(records ...domain.ServerRecord) domain.ServerSnapshot {
	s := make(domain.ServerSnapshot, len(records))
	for _, r := range records {
		s[r.ID] = r
	}
	return s
}

func newTestLoadBalancer(t *testing.T, cfg domain.SelectionConfig, client domain.ServerStatsClient, seed int64) (*LoadBalancer, *Metrics) {
	t.Helper()
	metrics := NewMetrics()
	lb, err := NewLoadBalancer(cfg, client, rand.New(rand.NewSource(seed)), metrics, logger.NewNop())
	require.NoError(t, err)
	return lb, metrics
}

func TestLeastLoaded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		snapshot domain.ServerSnapshot
		bestID   string
		tiedIDs  []string
	}{
		{
			name:     "single server",
			snapshot: snapshotOf(server("a", 50, 50)),
			bestID:   "a",
			tiedIDs:  []string{"a"},
		},
		{
			name:     "memory decides first",
			snapshot: snapshotOf(server("a", 20, 1), server("b", 10, 90), server("c", 30, 0)),
			bestID:   "b",
			tiedIDs:  []string{"b"},
		},
		{
			name:     "cpu breaks memory ties",
			snapshot: snapshotOf(server("a", 10, 40), server("b", 10, 30), server("c", 10, 35)),
			bestID:   "b",
			tiedIDs:  []string{"b"},
		},
		{
			name:     "two way tie",
			snapshot: snapshotOf(server("a", 20, 50), server("b", 10, 30), server("c", 10, 30)),
			bestID:   "b",
			tiedIDs:  []string{"b", "c"},
		},
		{
			name:     "tie set resets on a strictly better server",
			snapshot: snapshotOf(server("a", 10, 30), server("b", 10, 30), server("c", 5, 99)),
			bestID:   "c",
			tiedIDs:  []string{"c"},
		},
		{
			name:     "loads above one hundred are still eligible",
			snapshot: snapshotOf(server("a", 150, 120), server("b", 140, 300)),
			bestID:   "b",
			tiedIDs:  []string{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, tied := LeastLoaded(tt.snapshot)
			assert.Equal(t, tt.bestID, best.ID)

			ids := make([]string, len(tied))
			for i, r := range tied {
				ids[i] = r.ID
			}
			assert.Equal(t, tt.tiedIDs, ids)
		})
	}
}

func TestSelectServerDeterministicMinimum(t *testing.T) {
	client := &stubStatsClient{snapshot: snapshotOf(
		server("a", 20, 50),
		server("b", 10, 30),
		server("c", 10, 31),
	)}
	lb, metrics := newTestLoadBalancer(t, domain.SelectionConfig{}, client, 1)

	for i := 0; i < 50; i++ {
		decision, err := lb.SelectServer(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "b", decision.Chosen.ID)
		assert.Len(t, decision.TieBrokenAmong, 1)
	}

	assert.Equal(t, 50, client.calls, "every selection must fetch a fresh snapshot")
	assert.Equal(t, 50.0, testutil.ToFloat64(metrics.selections.WithLabelValues(SelectionUnique)))
	assert.Equal(t, 50.0, testutil.ToFloat64(metrics.serverSelected.WithLabelValues("b")))
}

func TestSelectServerAlwaysPicksFromSnapshot(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(8)
		records := make([]domain.ServerRecord, n)
		for i := range records {
			// Coarse loads so ties of every size show up
			records[i] = server(fmt.Sprintf("s%d", i), float64(rng.Intn(3)*10), float64(rng.Intn(2)*10))
		}
		snapshot := snapshotOf(records...)

		for _, policy := range []domain.TieBreakPolicy{domain.TieBreakBounded, domain.TieBreakUniform} {
			lb, _ := newTestLoadBalancer(t, domain.SelectionConfig{TieBreak: policy}, &stubStatsClient{snapshot: snapshot}, int64(trial))

			decision, err := lb.SelectServer(context.Background())
			require.NoError(t, err)

			member, ok := snapshot[decision.Chosen.ID]
			require.True(t, ok, "chosen server %s not in snapshot", decision.Chosen.ID)
			assert.Equal(t, member, decision.Chosen)

			best, _ := LeastLoaded(snapshot)
			assert.Equal(t, best.MemLoad, decision.Chosen.MemLoad)
			assert.Equal(t, best.CPULoad, decision.Chosen.CPULoad)
		}
	}
}

func TestSelectServerTieDistribution(t *testing.T) {
	const trials = 6000

	tests := []struct {
		name     string
		snapshot domain.ServerSnapshot
		tied     []string
	}{
		{
			name: "two way tie splits evenly",
			snapshot: snapshotOf(
				server("a", 20, 50),
				server("b", 10, 30),
				server("c", 10, 30),
			),
			tied: []string{"b", "c"},
		},
		{
			name: "three way tie splits evenly",
			snapshot: snapshotOf(
				server("a", 5, 5),
				server("b", 5, 5),
				server("c", 5, 5),
				server("d", 6, 0),
			),
			tied: []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, metrics := newTestLoadBalancer(t, domain.SelectionConfig{}, &stubStatsClient{snapshot: tt.snapshot}, 7)

			counts := make(map[string]int)
			for i := 0; i < trials; i++ {
				decision, err := lb.SelectServer(context.Background())
				require.NoError(t, err)
				assert.Len(t, decision.TieBrokenAmong, len(tt.tied))
				counts[decision.Chosen.ID]++
			}

			expected := float64(trials) / float64(len(tt.tied))
			total := 0
			for _, id := range tt.tied {
				assert.InDelta(t, expected, float64(counts[id]), expected*0.1,
					"server %s chosen %d times", id, counts[id])
				total += counts[id]
			}
			assert.Equal(t, trials, total, "only tied servers may be chosen")
			assert.Equal(t, float64(trials), testutil.ToFloat64(metrics.selections.WithLabelValues(SelectionTieBroken)))
		})
	}
}

func TestSelectServerLargeTies(t *testing.T) {
	snapshot := snapshotOf(
		server("d", 1, 1),
		server("a", 1, 1),
		server("c", 1, 1),
		server("b", 1, 1),
	)

	t.Run("bounded policy keeps the first minimal server", func(t *testing.T) {
		lb, _ := newTestLoadBalancer(t, domain.SelectionConfig{TieBreak: domain.TieBreakBounded}, &stubStatsClient{snapshot: snapshot}, 3)
		for i := 0; i < 100; i++ {
			decision, err := lb.SelectServer(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "a", decision.Chosen.ID)
			assert.Len(t, decision.TieBrokenAmong, 4)
		}
	})

	t.Run("uniform policy spreads across all tied servers", func(t *testing.T) {
		lb, _ := newTestLoadBalancer(t, domain.SelectionConfig{TieBreak: domain.TieBreakUniform}, &stubStatsClient{snapshot: snapshot}, 3)
		seen := make(map[string]int)
		for i := 0; i < 400; i++ {
			decision, err := lb.SelectServer(context.Background())
			require.NoError(t, err)
			seen[decision.Chosen.ID]++
		}
		assert.Len(t, seen, 4)
	})
}

func TestSelectServerEmptySnapshot(t *testing.T) {
	t.Run("error policy", func(t *testing.T) {
		lb, metrics := newTestLoadBalancer(t, domain.SelectionConfig{}, &stubStatsClient{snapshot: domain.ServerSnapshot{}}, 1)

		decision, err := lb.SelectServer(context.Background())
		assert.Nil(t, decision)
		assert.ErrorIs(t, err, cerrors.ErrNoServers)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.selections.WithLabelValues(SelectionError)))
	})

	t.Run("broadcast policy", func(t *testing.T) {
		lb, metrics := newTestLoadBalancer(t, domain.SelectionConfig{NoServers: domain.NoServersBroadcast}, &stubStatsClient{snapshot: domain.ServerSnapshot{}}, 1)

		decision, err := lb.SelectServer(context.Background())
		require.NoError(t, err)
		assert.True(t, decision.Fallback)
		assert.Equal(t, "ff:ff:ff:ff:ff:ff", decision.Chosen.MAC.String())
		assert.Equal(t, "0.0.0.0", decision.Chosen.IP.String())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.selections.WithLabelValues(SelectionFallback)))
	})
}

func TestSelectServerPropagatesStatsErrors(t *testing.T) {
	statsErr := cerrors.NewStatsRetrievalError("http://monitor/stats/servers/", fmt.Errorf("invalid character 'T'"))
	lb, _ := newTestLoadBalancer(t, domain.SelectionConfig{}, &stubStatsClient{err: statsErr}, 1)

	decision, err := lb.SelectServer(context.Background())
	assert.Nil(t, decision)
	assert.ErrorIs(t, err, cerrors.ErrStatsRetrieval)
}

func TestNewLoadBalancerValidation(t *testing.T) {
	_, err := NewLoadBalancer(domain.SelectionConfig{TieBreak: "weighted"}, &stubStatsClient{}, nil, nil, logger.NewNop())
	assert.ErrorIs(t, err, cerrors.ErrInvalidConfig)

	_, err = NewLoadBalancer(domain.SelectionConfig{}, nil, nil, nil, logger.NewNop())
	assert.Error(t, err)
}
