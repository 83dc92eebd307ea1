// Package events carries persona report requests and outcomes over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectReportRequest   = "persona.report.request"
	SubjectReportCompleted = "persona.report.completed"
	SubjectReportFailed    = "persona.report.failed"
	SubjectRegistered      = "persona.agent.registered"

	// Servers share requests through one queue group, so each request is
	// analyzed once.
	requestQueue = "persona"

	HeaderSchema  = "Persona-Schema"
	schemaVersion = "1"
)

// ReportRequest asks a running server to analyze a username. Omitted
// limits use the server defaults; zero skips that listing.
type ReportRequest struct {
	Username     string `json:"username"`
	PostLimit    *int   `json:"post_limit,omitempty"`
	CommentLimit *int   `json:"comment_limit,omitempty"`
	NoCache      bool   `json:"no_cache,omitempty"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

type clientOptions struct {
	name          string
	token         string
	maxReconnects int
	reconnectWait time.Duration
}

type Option func(*clientOptions)

func WithToken(token string) Option { return func(o *clientOptions) { o.token = token } }

// WithName sets the connection name shown in NATS monitoring.
func WithName(name string) Option { return func(o *clientOptions) { o.name = name } }

func WithReconnect(attempts int, wait time.Duration) Option {
	return func(o *clientOptions) {
		o.maxReconnects, o.reconnectWait = attempts, wait
	}
}

// NewClient connects to url. The connection keeps retrying in the
// background when the server is down at start.
func NewClient(ctx context.Context, url string, logger *slog.Logger, opts ...Option) (*Client, error) {
	o := clientOptions{name: "persona", maxReconnects: 60, reconnectWait: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	natsOpts := []nats.Option{
		nats.Name(o.name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(o.maxReconnects),
		nats.ReconnectWait(o.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("nats async error", "subject", subject, "error", err)
		}),
	}
	if o.token != "" {
		natsOpts = append(natsOpts, nats.Token(o.token))
	}

	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		nc.Close()
		return nil, err
	}
	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as JSON, tagged with the payload schema version.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(HeaderSchema, schemaVersion)
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// HandleRequests delivers report requests to h. Messages from a newer
// schema are logged and skipped.
func (c *Client) HandleRequests(h func(subject string, data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectReportRequest, requestQueue, func(msg *nats.Msg) {
		if v := msg.Header.Get(HeaderSchema); v != "" && v != schemaVersion {
			c.logger.Warn("skipping report request with unknown schema", "schema", v)
			return
		}
		h(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectReportRequest, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("accepting report requests", "subject", SubjectReportRequest, "queue", requestQueue)
	return nil
}

// Close drains subscriptions so handlers already running can finish, then
// closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}
