package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"user-stream-ingestor/internal/config"
	healthhandler "user-stream-ingestor/internal/health/handler"
	"user-stream-ingestor/internal/metrics"
	"user-stream-ingestor/internal/pipeline"
	"user-stream-ingestor/internal/server"
	"user-stream-ingestor/internal/stream"
	"user-stream-ingestor/internal/telemetry"
	telemetryotel "user-stream-ingestor/internal/telemetry/otel"
	"user-stream-ingestor/internal/user/decoder"
)

const serviceName = "user-stream-ingestor"

func newRunCmd() *cobra.Command {
	var logWritten bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Provision the destination, then consume until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, logWritten)
		},
	}
	cmd.Flags().BoolVar(&logWritten, "log-written", false, "emit an OTel log record for every persisted user")
	return cmd
}

func runPipeline(parent context.Context, cfg *config.Config, logWritten bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	owner := uuid.NewString()
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
		InstanceID:  owner,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	providers.SetGlobal()

	a, err := openApp(ctx, cfg)
	if err != nil {
		metrics.SetState(pipeline.StateFailed)
		return err
	}
	defer a.Close()

	policy, err := pipeline.ParseStartPolicy(cfg.StartingOffsets)
	if err != nil {
		return err
	}
	store, storeProvisioner := a.checkpoints()

	recordObserver := telemetryotel.NewRecordObserver(providers.LoggerProvider)
	recordObserver.Written = logWritten
	async := telemetry.NewAsyncObserver(recordObserver, 0)
	defer async.Close()

	driver, err := pipeline.NewDriver(pipeline.Options{
		Topic:                       cfg.KafkaTopic,
		Location:                    cfg.CheckpointLocation,
		StartPolicy:                 policy,
		Owner:                       owner,
		BatchSize:                   cfg.BatchSize,
		PollTimeout:                 cfg.PollTimeout,
		MaxConsecutiveWriteFailures: cfg.MaxConsecutiveWriteFailures,
		ChannelMaxRetries:           uint(cfg.ChannelMaxRetries),
		ChannelRetryMaxInterval:     cfg.ChannelRetryMaxInterval,
	}, pipeline.Deps{
		Source:       stream.NewKafkaSource(cfg.KafkaBrokersList(), 10*time.Second),
		Decoder:      decoder.New(a.dest.Schema),
		Writer:       a.repo,
		Checkpoints:  store,
		Provisioners: []pipeline.Provisioner{a.provisioner, storeProvisioner},
		Observer:     pipeline.Observers{metrics.NewObserver(), async},
		Tracer:       providers.TracerProvider.Tracer(serviceName + "/pipeline"),
		OnStateChange: func(s pipeline.State) {
			metrics.SetState(s)
		},
	})
	if err != nil {
		return err
	}

	health := healthhandler.NewServer(driver.State, a.pool)
	if cfg.MetricsAddr != "" {
		server.Start(ctx, cfg.MetricsAddr, health.Ready)
	}
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		gs := server.NewGRPCServer(server.Deps{Health: health})
		go func() {
			log.Printf("ingestor: gRPC health listening on %s", cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				log.Printf("ingestor: gRPC serve: %v", err)
			}
		}()
		defer gs.GracefulStop()
	}

	log.Printf("ingestor: %s -> %s (owner %s, starting offsets %s, checkpoints %s at %q)",
		cfg.KafkaTopic, a.dest, owner, policy, cfg.CheckpointBackend, cfg.CheckpointLocation)
	if err := driver.Run(ctx); err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	log.Println("ingestor: stopped")
	return nil
}
