package hostsim

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/punchamoorthee/marketops/internal/models"
)

// Pusher delivers host-initiated messages to the engine. A Pusher without a URL drops them.
type Pusher struct {
	url    string
	client *http.Client
}

func NewPusher(engineURL string, timeout time.Duration) *Pusher {
	if engineURL == "" {
		return &Pusher{}
	}
	return &Pusher{
		url:    strings.TrimRight(engineURL, "/") + "/api/v1/host/messages",
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Pusher) Enabled() bool { return p != nil && p.url != "" }

func (p *Pusher) Push(ctx context.Context, msg models.InboundMessage) error {
	if !p.Enabled() {
		return nil
	}
	frame, err := models.EncodeInbound(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", msg.Action(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push %s: engine returned %d", msg.Action(), resp.StatusCode)
	}
	return nil
}
