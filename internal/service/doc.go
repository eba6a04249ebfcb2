/*
Package service implements server selection for the virtual IP.

LoadBalancer:
Every selection fetches a fresh snapshot from the monitoring service and picks
the server with the lexicographically smallest (mem, cpu) pair. Nothing is
cached between calls.

	lb, err := service.NewLoadBalancer(
		domain.SelectionConfig{TieBreak: domain.TieBreakBounded},
		statsClient,
		nil, // math/rand
		metrics,
		logger,
	)

	decision, err := lb.SelectServer(ctx)

Tie Breaking:
When several servers share the minimum, a TieBreaker chooses among them.

BoundedTieBreaker randomizes 2- and 3-way ties only; larger ties go to the
first minimal server in id order.

	tb := service.NewBoundedTieBreaker(nil)

UniformTieBreaker picks uniformly among any number of tied servers.

	tb := service.NewUniformTieBreaker(nil)

Both accept a RandomSource so tests can make the choice deterministic.

Metrics:
Metrics owns a private prometheus registry with the controller's counters and
gauges. The recording methods are safe on a nil *Metrics.

	metrics := service.NewMetrics()
	metrics.PacketIn(service.PacketInLearning)
	handler := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
*/
package service
