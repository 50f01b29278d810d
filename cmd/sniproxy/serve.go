package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dioad/sniproxy/internal/dnscache"
	"github.com/dioad/sniproxy/internal/match"
	"github.com/dioad/sniproxy/internal/proxyconfig"
	"github.com/dioad/sniproxy/internal/socks5client"
	"github.com/dioad/sniproxy/internal/traffic"
	"github.com/dioad/sniproxy/proxy"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy using a JSON configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the JSON configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := proxyconfig.Load(configPath)
	if err != nil {
		return err
	}

	coreCfg, opts, accountant := buildEngine(cfg)

	resolver := dnscache.NewSystemResolver()
	engine := proxy.New(coreCfg, resolver, accountant, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	logrus.WithField("listen_addr", coreCfg.ListenAddr).Info("sniproxy: starting")
	if err := engine.Run(ctx); err != nil {
		return err
	}
	logrus.Info("sniproxy: stopped cleanly")
	return nil
}

// buildEngine converts the parsed, validated JSON configuration into
// the core's immutable proxy.Config plus the Options and traffic
// accountant the engine needs, compiling the raw string whitelists
// into match.DomainMatcher/match.IPMatcher along the way.
func buildEngine(cfg *proxyconfig.Config) (*proxy.Config, []proxy.Option, *traffic.Accountant) {
	coreCfg := &proxy.Config{
		ListenAddr:         cfg.ListenAddr,
		Direct:             match.NewDomainMatcher(cfg.Whitelist),
		MaxConnections:     cfg.MaxConnections,
		TrustProxyProtocol: cfg.TrustProxyProtocol,
	}

	if len(cfg.Socks5Whitelist) > 0 {
		coreCfg.Socks5Whitelist = match.NewDomainMatcher(cfg.Socks5Whitelist)
	}
	if len(cfg.IPWhitelist) > 0 {
		coreCfg.IPWhitelist = match.NewIPMatcher(cfg.IPWhitelist)
	}
	if cfg.Socks5 != nil {
		coreCfg.Socks5 = &socks5client.Config{
			Addr:     cfg.Socks5.Addr,
			Username: cfg.Socks5.Username,
			Password: cfg.Socks5.Password,
		}
	}

	accountant := traffic.Disabled()
	var opts []proxy.Option
	if cfg.IPTrafficTracking != nil && cfg.IPTrafficTracking.Enabled {
		accountant = traffic.New(cfg.IPTrafficTracking.MaxTrackedIPs)
		if cfg.IPTrafficTracking.OutputFile != "" {
			opts = append(opts, proxy.WithStatsFile(cfg.IPTrafficTracking.OutputFile))
		}
		if cfg.IPTrafficTracking.PersistenceFile != "" {
			opts = append(opts, proxy.WithPersistenceFile(cfg.IPTrafficTracking.PersistenceFile))
		}
	}

	return coreCfg, opts, accountant
}
