package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"

	"tecnoico/internal/config"
	"tecnoico/internal/domain"
)

// Subject leaves under the configured prefix.
const (
	SubjectSettlements = "settlements"
	SubjectPrices      = "prices"
	SubjectTimers      = "timers"
	SubjectPause       = "pause"
)

type Client struct {
	nc     *nats.Conn
	log    logger.Logger
	prefix string
}

func New(log logger.Logger, cfg *config.NATSConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nats config is required")
	}

	url := cfg.URL
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "tecnoico"
	}

	opts := []nats.Option{
		nats.Name("tecnoico"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1), // endless reconnected
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS successfully, url=%s", url)

	return &Client{
		nc:     nc,
		log:    log,
		prefix: prefix,
	}, nil
}

func (c *Client) subject(leaf string) string {
	return c.prefix + "." + leaf
}

func (c *Client) publish(leaf string, v any) error {
	if c.nc == nil {
		return errors.New("nats connection is not established")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", leaf, err)
	}

	if err = c.nc.Publish(c.subject(leaf), data); err != nil {
		return fmt.Errorf("publish to %s: %w", c.subject(leaf), err)
	}
	return nil
}

// PublishSettlement fans a settled purchase out to listeners.
func (c *Client) PublishSettlement(s *domain.Settlement) error {
	return c.publish(SubjectSettlements, s)
}

// PublishPrice announces a new active price row.
func (c *Client) PublishPrice(p *domain.Price) error {
	return c.publish(SubjectPrices, p)
}

// PublishTimer announces a timer create/update/delete. A nil timer means the
// timer was removed.
func (c *Client) PublishTimer(t *domain.Timer) error {
	return c.publish(SubjectTimers, t)
}

// PublishPause announces a sale pause toggle.
func (c *Client) PublishPause(paused bool) error {
	return c.publish(SubjectPause, map[string]bool{"paused": paused})
}

func (c *Client) Ready() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

func (c *Client) Status() nats.Status {
	if c.nc == nil {
		return nats.DISCONNECTED
	}
	return c.nc.Status()
}

func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}

	// check not close this conn
	if c.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.log.Errorf("Failed to drain connection to NATS, error=%v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}

	c.nc.Close()
	c.log.Infof("NATS connection closed gracefully")
	return nil
}
