// Package stats fetches backend server load from the monitoring service.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mir00r/sdn-load-balancer/internal/domain"
	cerrors "github.com/mir00r/sdn-load-balancer/internal/errors"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// Config configures the monitoring client
type Config struct {
	URL string
	// Timeout bounds a single fetch. Zero means no timeout.
	Timeout time.Duration
	// MaxRequestsPerSecond throttles fetches. Zero disables throttling.
	MaxRequestsPerSecond float64
}

// HTTPClient implements domain.ServerStatsClient against the monitoring
// service's JSON endpoint. Every call performs a fresh GET.
type HTTPClient struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

// serverEntry is one value of the monitoring response object
type serverEntry struct {
	CPU *loadValue `json:"cpu"`
	Mem *loadValue `json:"mem"`
	MAC string     `json:"mac"`
	IP  string     `json:"ip"`
}

// loadValue accepts both JSON numbers and numeric strings
type loadValue float64

func (v *loadValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case float64:
		*v = loadValue(val)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("load %q is not numeric", val)
		}
		*v = loadValue(f)
	default:
		return fmt.Errorf("load must be a number or numeric string, got %s", string(data))
	}
	return nil
}

// NewHTTPClient creates a monitoring client
func NewHTTPClient(cfg Config, log *logger.Logger) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, cerrors.NewError(cerrors.ErrCodeInvalidConfig, "stats_client", "stats URL cannot be empty")
	}

	c := &HTTPClient{
		url: cfg.URL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.StatsLogger(cfg.URL),
	}

	if cfg.MaxRequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}

	return c, nil
}

// FetchServers retrieves the current server snapshot. Transport failures,
// non-2xx statuses and unparseable bodies all yield a STATS_RETRIEVAL_FAILED
// error.
func (c *HTTPClient) FetchServers(ctx context.Context) (domain.ServerSnapshot, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, cerrors.NewStatsRetrievalError(c.url, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, cerrors.NewStatsRetrievalError(c.url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sdnlb-controller/1.0")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("Stats request failed")
		return nil, cerrors.NewStatsRetrievalError(c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, cerrors.NewStatsRetrievalError(c.url, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerrors.NewStatsRetrievalError(c.url, fmt.Errorf("read response: %w", err))
	}

	snapshot, err := ParseSnapshot(body)
	if err != nil {
		c.logger.WithError(err).Warn("Cannot parse stats response")
		return nil, cerrors.NewStatsRetrievalError(c.url, err)
	}

	c.logger.WithField("servers", len(snapshot)).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Debug("Fetched server stats")

	return snapshot, nil
}

// ParseSnapshot decodes a monitoring response body
func ParseSnapshot(body []byte) (domain.ServerSnapshot, error) {
	var entries map[string]serverEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	snapshot := make(domain.ServerSnapshot, len(entries))
	for id, e := range entries {
		mac, err := net.ParseMAC(e.MAC)
		if err != nil || len(mac) != 6 {
			return nil, fmt.Errorf("server %s: invalid Ethernet mac %q", id, e.MAC)
		}
		ip := net.ParseIP(e.IP)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("server %s: invalid IPv4 address %q", id, e.IP)
		}

		// A missing or null load would otherwise read as 0 and win every selection
		if e.CPU == nil || e.Mem == nil {
			return nil, fmt.Errorf("server %s: cpu and mem are both required", id)
		}
		cpu, mem := float64(*e.CPU), float64(*e.Mem)
		if math.IsNaN(cpu) || math.IsNaN(mem) {
			return nil, fmt.Errorf("server %s: load is NaN", id)
		}

		snapshot[id] = domain.ServerRecord{
			ID:      id,
			MAC:     mac,
			IP:      ip.To4(),
			CPULoad: cpu,
			MemLoad: mem,
		}
	}
	return snapshot, nil
}
