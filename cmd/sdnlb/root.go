package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mir00r/sdn-load-balancer/internal/config"
	"github.com/mir00r/sdn-load-balancer/internal/controller"
	"github.com/mir00r/sdn-load-balancer/internal/packet"
	"github.com/mir00r/sdn-load-balancer/internal/service"
	"github.com/mir00r/sdn-load-balancer/internal/stats"
	"github.com/mir00r/sdn-load-balancer/pkg/logger"
)

// newRootCmd builds the sdnlb command tree
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "sdnlb",
		Short:        "SDN controller that load balances a virtual IP across servers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (default $CONFIG_FILE or ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSelectCmd(&configPath),
		newValidateConfigCmd(&configPath),
	)
	return root
}

// loadConfig loads the configuration and builds its logger
func loadConfig(path string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.ToLoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// components are the wired controller pieces shared by every command
type components struct {
	metrics    *service.Metrics
	balancer   *service.LoadBalancer
	controller *controller.Controller
}

func buildComponents(cfg *config.Config, log *logger.Logger) (*components, error) {
	vip, err := cfg.VIPAddr()
	if err != nil {
		return nil, err
	}

	metrics := service.NewMetrics()

	client, err := stats.NewHTTPClient(cfg.ToStatsConfig(), log)
	if err != nil {
		return nil, err
	}

	balancer, err := service.NewLoadBalancer(cfg.ToSelectionConfig(), client, nil, metrics, log)
	if err != nil {
		return nil, err
	}

	ctrl, err := controller.New(controller.Config{
		VIP:               vip,
		EvictOnDisconnect: cfg.Controller.EvictOnDisconnect,
		FlowIdleTimeout:   cfg.Controller.FlowIdleTimeout,
		FlowHardTimeout:   cfg.Controller.FlowHardTimeout,
	}, balancer, packet.NewCodec(), metrics, log)
	if err != nil {
		return nil, err
	}

	return &components{
		metrics:    metrics,
		balancer:   balancer,
		controller: ctrl,
	}, nil
}

// getConfigSource returns the configuration source for logging
func getConfigSource(path string) string {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		return "file+env"
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "file+env"
	}

	for _, key := range []string{"VIP", "STATS_URL", "TIE_BREAK", "LOG_LEVEL"} {
		if os.Getenv(config.EnvPrefix+key) != "" {
			return "environment"
		}
	}
	return "defaults"
}
