// Package bus mirrors job snapshots onto NATS and accepts remote cancel requests.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"frigate-commander/jobs"
)

// handlerTimeout bounds one inbound message handler
const handlerTimeout = 30 * time.Second

// Client is the commander's NATS connection. It reconnects forever, so a
// broker restart only delays snapshots.
type Client struct {
	nc *nats.Conn
}

// Connect dials url and logs every disconnect and reconnect
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("frigate-commander"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] Reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Printf("[NATS] Connected to %s", nc.ConnectedUrl())
	return &Client{nc: nc}, nil
}

// Close drains pending publishes and subscriptions before disconnecting
func (c *Client) Close() {
	if c == nil || c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		log.Printf("[NATS] Failed to drain connection: %v", err)
	}
}

// PublishJSON publishes v encoded as JSON on subject
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", subject, err)
	}
	if c.nc == nil {
		return fmt.Errorf("failed to publish on %s: not connected", subject)
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	return nil
}

// SubscribeJSON calls handler with the raw payload of every message on
// subject. Each call gets a context that expires after handlerTimeout.
func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	if c.nc == nil {
		return nil, fmt.Errorf("failed to subscribe to %s: not connected", subject)
	}
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Publisher is the subset of Client used to mirror snapshots
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// JobSubject is the subject snapshots of one job are published on
func JobSubject(prefix, jobID string) string {
	return prefix + "." + jobID
}

// CancelSubject receives {"id": "..."} cancel requests
func CancelSubject(prefix string) string {
	return prefix + ".cancel"
}

// Forward publishes every snapshot from sub until ctx is done or sub closes
func Forward(ctx context.Context, sub *jobs.Subscription, pub Publisher, prefix string) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-sub.C:
			if !ok {
				return
			}
			if err := pub.PublishJSON(JobSubject(prefix, job.ID), job); err != nil {
				log.Printf("[NATS] Failed to publish job %s: %v", job.ID, err)
			}
		}
	}
}

type cancelRequest struct {
	ID string `json:"id"`
}

// CancelHandler decodes a cancel request and hands the job id to cancel
func CancelHandler(cancel func(id string) error) func(ctx context.Context, data []byte) {
	return func(_ context.Context, data []byte) {
		var req cancelRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			log.Printf("[NATS] Ignoring malformed cancel request: %s", string(data))
			return
		}
		if err := cancel(req.ID); err != nil {
			log.Printf("[NATS] Cancel of job %s failed: %v", req.ID, err)
			return
		}
		log.Printf("[NATS] Cancelled job %s on request", req.ID)
	}
}
