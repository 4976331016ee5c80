// alert-tap is a debug subscriber: it taps the alert and telemetry topics
// and pretty-prints whatever flows through, useful when checking a broker
// deployment without standing up a dashboard.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azora-io/vigil-core/internal/mqttclient"
)

func main() {
	site := getenv("VIGIL_SITE", "+")
	alertTopic := "vigil/" + site + "/+/alerts"
	telemetryTopic := "vigil/" + site + "/telemetry"

	mqttCli, err := mqttclient.NewClientFromEnv("vigil-alert-tap")
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	defer mqttCli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for _, topic := range []string{alertTopic, telemetryTopic} {
		if err := mqttCli.Subscribe(topic, 1, handleMessage); err != nil {
			log.Fatalf("subscribe %s: %v", topic, err)
		}
		log.Printf("[tap] subscribed to %s", topic)
	}

	go func() {
		<-sig
		log.Println("[tap] signal received, exiting...")
		cancel()
	}()

	<-ctx.Done()
	time.Sleep(500 * time.Millisecond)
}

func handleMessage(topic string, payload []byte) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Printf("[tap] %s: non-JSON payload (%d bytes)", topic, len(payload))
		return
	}

	pretty, _ := json.MarshalIndent(raw, "", "  ")
	log.Printf("[tap] %s:\n%s", topic, string(pretty))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
