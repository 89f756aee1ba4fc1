// Package events publishes run notifications on NATS.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"view-aspects-go/internal/logger"
)

// SubjectCompleted is published once a view has been persisted.
const SubjectCompleted = "topic_modeler.completed"

// Completed is the payload of SubjectCompleted.
type Completed struct {
	ProjectAnalysisRunID string `json:"project_analysis_run_id"`
	ViewID               string `json:"view_id"`
	Pipeline             string `json:"pipeline"`
	Aspects              int    `json:"aspects"`
}

type Client struct {
	conn *nats.Conn
	log  *logger.Logger
}

func NewClient(url, token string, log *logger.Logger) (*Client, error) {
	log = log.Component("events")
	opts := []nats.Option{
		nats.Name("view-aspects"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, log: log}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := Encode(data)
	if err != nil {
		return err
	}
	return c.conn.Publish(subject, payload)
}

// Close drains pending publishes before closing the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("nats drain failed")
		c.conn.Close()
	}
}

func Encode(data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return payload, nil
}
