package alerthub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/azora-io/vigil-core/internal/config"
)

// WebhookDispatcher POSTs alert payloads to configured endpoints. Each
// endpoint is its own failure domain: one unreachable URL is logged and the
// rest are still attempted.
type WebhookDispatcher struct {
	client *http.Client
}

func NewWebhookDispatcher(timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver sends payload to every hook, isolating failures per hook.
func (d *WebhookDispatcher) Deliver(hooks []config.Webhook, payload any) {
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[webhook] marshal payload: %v", err)
		return
	}

	for _, hook := range hooks {
		if err := d.post(hook.URL, body); err != nil {
			log.Printf("[webhook] delivery to %s failed: %v", hook.URL, err)
		}
	}
}

func (d *WebhookDispatcher) post(url string, body []byte) error {
	resp, err := d.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
