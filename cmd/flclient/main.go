package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/flclient"
	"github.com/absmach/flclient/api"
	"github.com/absmach/flclient/cli"
	"github.com/absmach/flclient/client"
	"github.com/absmach/flclient/pkg/crypto"
	"github.com/absmach/flclient/pkg/fl"
	pkgmqtt "github.com/absmach/flclient/pkg/mqtt"
	"github.com/absmach/flclient/pkg/tracing"
	"github.com/absmach/flclient/registry"
	transporthttp "github.com/absmach/flclient/transport/http"
	transportmqtt "github.com/absmach/flclient/transport/mqtt"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	svcName         = "flclient"
	shutdownTimeout = 5 * time.Second
)

var (
	version  = "dev"
	logLevel slog.Level
)

func main() {
	if err := run(); err != nil {
		if !cli.IsSilent(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run() error {
	rt, err := flclient.LoadRuntimeConfig()
	if err != nil {
		return err
	}

	logger := configureLogger(rt.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	reg := registry.Default()
	root := cli.NewRootCmd(reg, func(ctx context.Context, cfg flclient.Config) error {
		return start(ctx, cfg, rt, reg, logger)
	})
	root.Version = version

	return root.ExecuteContext(ctx)
}

func start(ctx context.Context, cfg flclient.Config, rt flclient.RuntimeConfig, reg *registry.Registry, logger *slog.Logger) error {
	if rt.OtelURL != "" {
		tp, err := tracing.NewProvider(ctx, svcName, rt.OtelURL, rt.InstanceID, rt.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.Error("Failed to shut down tracer provider", slog.Any("error", err))
			}
		}()
	}

	var cipher *crypto.Cipher
	if rt.WorkloadKey != "" {
		c, err := crypto.NewCipher(rt.WorkloadKey)
		if err != nil {
			return fmt.Errorf("invalid workload key: %w", err)
		}
		cipher = c
	}
	codec, err := fl.NewCodec(rt.ParameterFormat, cipher)
	if err != nil {
		return err
	}

	handler, err := client.Build(ctx, cfg, reg, client.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}

	transport := newTransport(cfg, rt, codec, logger)

	logger.Info("Starting federated learning client",
		slog.Int("cid", cfg.CID),
		slog.String("server_address", cfg.ServerAddress),
		slog.String("transport", rt.Transport),
		slog.String("version", version),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		return client.Start(gctx, handler, transport, cfg.ServerAddress,
			client.LoggingMiddleware(logger),
			client.MetricsMiddleware(cfg.CID),
			client.TracingMiddleware(otel.Tracer(svcName)),
		)
	})

	if rt.StatusAddress != "" {
		srv := &http.Server{
			Addr:              rt.StatusAddress,
			Handler:           api.MakeHandler(handler, version),
			ReadHeaderTimeout: shutdownTimeout,
		}
		g.Go(func() error {
			logger.Info("Status API listening", slog.String("address", rt.StatusAddress))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}

			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()

			return srv.Shutdown(sctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Client session finished", slog.Int("cid", cfg.CID))

	return nil
}

func newTransport(cfg flclient.Config, rt flclient.RuntimeConfig, codec fl.Codec, logger *slog.Logger) client.Transport {
	if rt.Transport == flclient.TransportHTTP {
		return transporthttp.New(transporthttp.Config{
			CID:          cfg.CID,
			PollInterval: rt.PollInterval,
			Timeout:      rt.HTTPTimeout,
		}, codec, nil, logger)
	}

	instanceID := rt.InstanceID
	if instanceID == "" {
		instanceID = namegenerator.NewGenerator().Generate()
	}
	tcfg := transportmqtt.Config{
		DomainID:           rt.DomainID,
		ChannelID:          rt.ChannelID,
		CID:                cfg.CID,
		InstanceID:         instanceID,
		LivelinessInterval: rt.LivelinessInterval,
	}
	dial := transportmqtt.NewDialer(pkgmqtt.Config{
		ID:       svcName + "-" + instanceID,
		Username: rt.ClientID,
		Password: rt.ClientKey,
		QoS:      rt.MQTTQoS,
		Timeout:  rt.MQTTTimeout,
		CAPath:   rt.CAPath,
		CertPath: rt.CertPath,
		KeyPath:  rt.KeyPath,
	}, tcfg, logger)

	return transportmqtt.New(tcfg, codec, dial, logger)
}

func configureLogger(level string) *slog.Logger {
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("Invalid log level: %s. Defaulting to info.\n", level)
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(logHandler)
}
