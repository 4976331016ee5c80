package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/azora-io/vigil-core/internal/alerthub"
	"github.com/azora-io/vigil-core/internal/config"
	"github.com/azora-io/vigil-core/internal/core"
	"github.com/azora-io/vigil-core/internal/eventbus"
	"github.com/azora-io/vigil-core/internal/inference"
	"github.com/azora-io/vigil-core/internal/mqttclient"
	"github.com/azora-io/vigil-core/internal/registry"
	"github.com/azora-io/vigil-core/internal/storage"
	"github.com/azora-io/vigil-core/internal/stream"
	"github.com/azora-io/vigil-core/internal/telemetry"
	"github.com/azora-io/vigil-core/internal/vigil"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] no .env loaded: %v", err)
	}

	cfg, err := config.Load(getenv("VIGIL_CONFIG", "vigil.yaml"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	mqttCli, err := mqttclient.NewClientFromEnv("vigild")
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	defer mqttCli.Close()

	bus, err := eventbus.NewPublisherFromEnv()
	if err != nil {
		log.Printf("[main] event bus not connected, channel disabled: %v", err)
		bus = nil
	}
	defer bus.Close()

	// Snapshots are optional: without MinIO credentials, alerts simply
	// carry no snapshot URL.
	var snapshots storage.SnapshotStore
	if store, err := storage.NewMinioStoreFromEnv(); err != nil {
		log.Printf("[main] snapshot store disabled: %v", err)
	} else {
		snapshots = store
	}

	engine := buildEngine()

	reg := registry.New(cfg.ConnectTimeout)
	hub := alerthub.New(cfg.Site,
		alerthub.WithBroker(mqttCli),
		alerthub.WithEventBus(bus),
		alerthub.WithWebhooks(
			alerthub.NewWebhookDispatcher(10*time.Second),
			cfg.AlertWebhooks(),
			cfg.EscalationWebhooks(),
		),
		alerthub.WithModel(engine.Name()),
	)
	streams := stream.New(reg, inference.NewRunner(engine, cfg.InferTimeout), hub, stream.Config{
		Site:                cfg.Site,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		FrameBuffer:         cfg.FrameBuffer,
		Snapshots:           snapshots,
	})
	tel := telemetry.New(cfg.Site, cfg.TelemetryInterval, reg, streams, hub, mqttCli)

	svc := vigil.NewService(cfg, reg, streams, hub, tel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}

	// Auto-start streams for connected cameras so a headless deploy needs
	// no API call to begin alerting.
	if getenv("VIGIL_AUTOSTART_STREAMS", "true") == "true" {
		for _, cam := range svc.ListCameras() {
			if cam.Status != core.CameraConnected {
				continue
			}
			if _, err := svc.StartStream(cam.ID(), stream.Options{}); err != nil {
				log.Printf("[main] autostart %s: %v", cam.ID(), err)
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] signal received, shutting down...")

	cancel()
	svc.Stop()
}

// buildEngine selects the inference backend. The real backend is an
// external collaborator wired by deployment; out of the box the pipeline
// runs detection-free.
func buildEngine() inference.Engine {
	name := getenv("VIGIL_ENGINE", "none")
	if name != "none" {
		log.Printf("[main] unknown engine %q, running detection-free", name)
	}
	return inference.Noop()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
