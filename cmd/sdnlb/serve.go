package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mir00r/sdn-load-balancer/internal/handler"
	"github.com/mir00r/sdn-load-balancer/internal/middleware"
	"github.com/mir00r/sdn-load-balancer/internal/replay"
)

const (
	shutdownTimeout = 30 * time.Second
)

type serveOptions struct {
	pcap            string
	dpid            uint64
	inPort          uint32
	exitAfterReplay bool
}

func newServeCmd(configPath *string) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller with the admin API",
		Long: "Run the controller with the admin API. With --pcap, the frames of a " +
			"capture are replayed as packet-in events from one switch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pcap, "pcap", "", "Replay a pcap or pcapng capture through the controller")
	cmd.Flags().Uint64Var(&opts.dpid, "dpid", 1, "Datapath id of the replayed switch")
	cmd.Flags().Uint32Var(&opts.inPort, "in-port", 0, "Ingress port of replayed frames (0 derives it from the capture)")
	cmd.Flags().BoolVar(&opts.exitAfterReplay, "exit-after-replay", false, "Stop once the replay finishes")
	return cmd
}

func runServe(configPath string, opts *serveOptions) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"vip":           cfg.Controller.VIP,
		"stats_url":     cfg.Stats.URL,
		"tie_break":     cfg.LoadBalancer.TieBreak,
		"config_source": getConfigSource(configPath),
		"process":       getProcessInfo(),
	}).Info("Controller configuration loaded")

	c, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// admin API and replay each send at most once
	errCh := make(chan error, 2)

	var server *http.Server
	if cfg.Admin.Enabled {
		admin := handler.NewAdminHandler(c.controller, c.balancer, c.metrics.Registry(), log)
		router := admin.Router()
		if cfg.Admin.RateLimit > 0 {
			router.Use(middleware.NewRateLimiter(cfg.Admin.RateLimit, cfg.Admin.RateBurst, log).Middleware())
			log.WithField("requests_per_second", cfg.Admin.RateLimit).Info("Admin API rate limiting enabled")
		}

		server = &http.Server{
			Addr:         fmt.Sprintf(":%d", getPort(cfg.Admin.Port)),
			Handler:      router,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			log.WithField("addr", server.Addr).Info("Starting admin API")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin API failed: %w", err)
			}
		}()
	}

	replayDone := make(chan struct{})
	if opts.pcap != "" {
		runner := replay.NewRunner(c.controller, log)
		go func() {
			defer close(replayDone)
			summary, err := runner.RunFile(ctx, opts.pcap, replay.Options{DPID: opts.dpid, InPort: opts.inPort})
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					errCh <- fmt.Errorf("replay failed: %w", err)
				}
				return
			}
			log.WithFields(map[string]interface{}{
				"source":      summary.Source,
				"frames":      summary.Frames,
				"handled":     summary.Handled,
				"rejected":    summary.Failed,
				"flow_mods":   summary.FlowMods,
				"packet_outs": summary.PacketOuts,
			}).Info("Capture replayed")
		}()
	}

	var stopOnReplay <-chan struct{}
	if opts.pcap != "" && opts.exitAfterReplay {
		stopOnReplay = replayDone
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case runErr = <-errCh:
		log.WithError(runErr).Error("Controller stopped")
	case <-stopOnReplay:
		log.Info("Replay finished, stopping")
	}

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error shutting down admin API")
		}
	}
	if opts.pcap != "" {
		select {
		case <-replayDone:
		case <-shutdownCtx.Done():
			log.Warn("Replay did not stop before the shutdown deadline")
		}
	}

	if runErr == nil {
		select {
		case runErr = <-errCh:
		default:
		}
	}

	log.Info("Controller stopped gracefully")
	return runErr
}
