// relayd runs the delivery pipeline as a standalone daemon: it consumes
// the configured queue, routes fatal failures to the dead letter queue,
// and serves Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	relay "github.com/cartloom/relay-go"
	"github.com/cartloom/relay-go/config"
	"github.com/cartloom/relay-go/contracts"
	"github.com/cartloom/relay-go/messaging"
	"github.com/cartloom/relay-go/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := cfg.Logger.NewLogger()

	handler := messaging.HandlerFunc(func(ctx context.Context, env *contracts.Envelope, msg *contracts.QueueMessage) (bool, error) {
		logger.Info("message received",
			"messageId", msg.ID,
			"messageType", env.Type,
			"receiveCount", msg.ReceiveCount,
		)
		return true, nil
	})

	client, err := relay.NewClient(cfg, handler,
		relay.WithClientLogger(logger),
		relay.WithClientMetrics(metrics.NewCollector()),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)

	client.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 3*cfg.Consumer.StopGrace())
	defer cancel()

	if err := client.Close(ctx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
