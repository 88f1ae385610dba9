package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shardkv/shardkv/internal/btree"
	"github.com/shardkv/shardkv/internal/cache"
	"github.com/shardkv/shardkv/internal/cluster"
	"github.com/shardkv/shardkv/internal/config"
	"github.com/shardkv/shardkv/internal/log"
	"github.com/shardkv/shardkv/internal/metrics"
	"github.com/shardkv/shardkv/internal/mux"
	"github.com/shardkv/shardkv/internal/peer"
	"github.com/shardkv/shardkv/internal/serializer"
)

var (
	// Version, Commit and BuildTime are set via ldflags at build time
	// and double as the handshake's Version field when unset in config.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shardkvd",
	Short:   "shardkvd runs one cluster node: a transport peer plus its storage slice",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("shardkvd %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cluster transport and storage slice for this node",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "shardkv.yaml", "path to the node's YAML config file")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the /metrics and pprof HTTP server")
	serveCmd.Flags().StringSlice("join", nil, "host:port addresses of existing peers to connect to at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	joinAddrs, _ := cmd.Flags().GetStringSlice("join")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})
	logger := log.WithComponent("shardkvd")

	if cfg.Cluster.Version == "" {
		cfg.Cluster.Version = Version
	}

	slice, ser, err := openSlice(cfg)
	if err != nil {
		return fmt.Errorf("open slice: %w", err)
	}
	defer slice.Close()
	defer ser.Close()

	m := mux.New()
	cl, err := cluster.New(cluster.Config{
		BindHost:       cfg.Cluster.BindHost,
		Port:           cfg.Cluster.Port,
		ClientPort:     cfg.Cluster.ClientPort,
		CanonicalHosts: cfg.Cluster.CanonicalHosts,
		Version:        cfg.Cluster.Version,
		ArchBitsize:    cfg.Cluster.ArchBitsize,
		BuildMode:      cfg.Cluster.BuildMode,
	}, m.Handler())
	if err != nil {
		return fmt.Errorf("start cluster transport: %w", err)
	}
	defer cl.Close()
	m.Bind(cl)

	logger.Info().Uint16("port", cl.BoundPort()).Str("peer_id", cl.Me().String()).Msg("cluster transport listening")

	collector := metrics.NewCollector(slice, func() int { return len(cl.GetPeersList()) })
	collector.Start()
	defer collector.Stop()

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, httpMux); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, addr := range joinAddrs {
		ipp, err := parseHostPort(addr)
		if err != nil {
			cancel()
			return fmt.Errorf("--join %s: %w", addr, err)
		}
		if err := cl.Connect(ctx, *ipp); err != nil {
			logger.Warn().Err(err).Str("addr", addr).Msg("initial join dial failed, relying on gossip")
		}
	}
	cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	return nil
}

// openSlice opens the slice's data directory, creating a fresh
// superblock the first time a node runs against an empty directory.
func openSlice(cfg *config.Config) (*btree.Slice, *serializer.BoltSerializer, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	dbPath := filepath.Join(dataDir, "blocks.db")
	_, statErr := os.Stat(dbPath)
	fresh := os.IsNotExist(statErr)

	ser, err := serializer.Open(dataDir)
	if err != nil {
		return nil, nil, err
	}

	cacheCfg := cache.Config{
		CleanBlockCapacity:   cfg.Cache.CleanBlockCapacity,
		MaxConcurrentFlushes: cfg.Cache.MaxConcurrentFlushes,
	}

	var slice *btree.Slice
	if fresh {
		slice, err = btree.Create(ser, cacheCfg)
	} else {
		slice, err = btree.New(ser, cacheCfg)
	}
	if err != nil {
		ser.Close()
		return nil, nil, err
	}
	return slice, ser, nil
}

// parseHostPort turns a "host:port" flag value into the IpAndPort the
// cluster transport's Connect expects.
func parseHostPort(addr string) (*peer.IpAndPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return &peer.IpAndPort{IP: host, Port: uint16(port)}, nil
}
