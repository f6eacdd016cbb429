// Command datexhubd runs a standalone DATEX communication hub, exposing a
// WebSocket listener for peer connections and a gRPC listener for
// service-mesh-style peers, with Prometheus metrics and OpenTelemetry
// tracing wired in. Grounded on the teacher's cmd/main.go shape: flag
// parsing, a leveled logger, signal-driven graceful shutdown.
//
// Usage:
//
//	go run ./cmd/datexhubd -endpoint ben -ws-addr :9000 -grpc-addr :9001
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datex-network/datex-hub/endpoint"
	"github.com/datex-network/datex-hub/hub"
	"github.com/datex-network/datex-hub/hubconfig"
	"github.com/datex-network/datex-hub/iface"
	"github.com/datex-network/datex-hub/ifacemgr"
	"github.com/datex-network/datex-hub/observability"
	"github.com/datex-network/datex-hub/socket"
	"github.com/datex-network/datex-hub/transport/grpciface"
	"github.com/datex-network/datex-hub/transport/loopback"
	"github.com/datex-network/datex-hub/transport/wsiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	endpointName := flag.String("endpoint", "", "local endpoint name, e.g. ben (required)")
	wsAddr := flag.String("ws-addr", ":9000", "WebSocket listen address")
	grpcAddr := flag.String("grpc-addr", ":9001", "gRPC listen address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces (disabled if empty)")
	allowUnsigned := flag.Bool("allow-unsigned", false, "accept unsigned blocks (development only)")
	flag.Parse()

	logger := observability.NewSlogLogger(slog.LevelInfo)

	if *endpointName == "" {
		logger.Error("missing required -endpoint flag")
		os.Exit(2)
	}

	self, err := endpoint.NewPerson(*endpointName, endpoint.InstanceAny)
	if err != nil {
		logger.Error("invalid endpoint", "name", *endpointName, "err", err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *otlpEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "datexhubd", *otlpEndpoint)
		if err != nil {
			logger.Error("tracer init failed", "err", err.Error())
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	cfg := hubconfig.DefaultConfig()
	cfg.AllowUnsignedBlocks = *allowUnsigned
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err.Error())
		os.Exit(2)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	h := hub.New(self, cfg, logger, metrics)

	if !*allowUnsigned {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			logger.Error("key generation failed", "err", err.Error())
			os.Exit(1)
		}
		h.SetSigningKey(priv)
	}

	wireLocalLoopback(ctx, h, logger)

	wsSrv := wsiface.NewServer(*wsAddr, iface.Properties{
		Name:            "ws-listener",
		MaxBandwidthBps: 10_000_000,
		RoundTripTimeMS: 5,
		AllowRedirects:  true,
	})
	wsInterface := iface.New(wsSrv)
	wsSrv.Bind(wsInterface)
	if !wsInterface.Open(ctx) {
		logger.Error("websocket interface open failed")
		os.Exit(1)
	}
	if err := h.AddInterface(ctx, wsInterface, ifacemgr.PriorityOf(10)); err != nil {
		logger.Error("websocket interface registration failed", "err", err.Error())
		os.Exit(1)
	}

	grpcSrv := grpciface.NewServer(*grpcAddr, iface.Properties{
		Name:            "grpc-listener",
		MaxBandwidthBps: 50_000_000,
		RoundTripTimeMS: 2,
		AllowRedirects:  true,
		IsSecureChannel: true,
	})
	grpcInterface := iface.New(grpcSrv)
	grpcSrv.Bind(grpcInterface)
	if !grpcInterface.Open(ctx) {
		logger.Error("grpc interface open failed")
		os.Exit(1)
	}
	if err := h.AddInterface(ctx, grpcInterface, ifacemgr.PriorityOf(20)); err != nil {
		logger.Error("grpc interface registration failed", "err", err.Error())
		os.Exit(1)
	}

	metricsSrv := startMetricsServer(*metricsAddr, logger)

	logger.Info("datexhubd_ready",
		"endpoint", self.String(),
		"ws_addr", *wsAddr,
		"grpc_addr", *grpcAddr,
		"metrics_addr", *metricsAddr,
	)

	<-ctx.Done()
	logger.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error("hub shutdown reported errors", "err", err.Error())
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "err", err.Error())
	}
	logger.Info("datexhubd_stopped")
}

// wireLocalLoopback gives the hub a self-addressed socket so @@local
// routing and same-process tooling (e.g. a CLI issuing Trace calls against
// its own hub) work without a real transport: the socket feeds back into
// its own collector, so anything the hub sends to itself arrives back
// through the ordinary consumeSocketBlocks/ReceiveBlock pipeline.
func wireLocalLoopback(ctx context.Context, h *hub.ComHub, logger observability.Logger) {
	impl := loopback.New(iface.Properties{
		Name:      "local",
		Direction: socket.DirectionInOut,
	})
	ifaceLocal := iface.New(impl)
	if err := h.AddInterface(ctx, ifaceLocal, ifacemgr.PriorityNone); err != nil {
		logger.Error("local loopback interface registration failed", "err", err.Error())
		os.Exit(1)
	}

	sock := socket.New(ifaceLocal.UUID, socket.DirectionInOut, 0)
	impl.SetPeer(sock)
	ifaceLocal.AddSocket(sock)
	h.UseLocalSocket(sock)
}

func startMetricsServer(addr string, logger observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_error", "err", err.Error())
		}
	}()
	return srv
}
