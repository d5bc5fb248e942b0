// Package transport implements the three typed send/receive operations
// the core consumes from the HTTP layer (spec.md §1): long-poll Get, and
// the two outbound POSTs (CreateSession, SendData). TLS/auth and framing
// are out of scope here per spec.md §1 — callers inject a preconfigured
// *http.Client so the core never has to know how credentials are
// attached, grounded on the original's agent_client.rs wrapping a
// CryptoClient the same way.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lipeops/lipe-agent/internal/errors"
	"github.com/lipeops/lipe-agent/internal/message"
	"github.com/lipeops/lipe-agent/internal/session"
)

// Client is a thin wrapper around an *http.Client scoped to one manager
// message endpoint, mirroring the teacher's registerAgent/sendMessage
// HTTP plumbing in main.go.
type Client struct {
	httpClient      *http.Client
	endpoint        *url.URL
	fqdn            string
	serverBootTime  string
	clientStartTime string
}

// New builds a Client. httpClient is typically http.DefaultClient with a
// custom Transport for mTLS; endpoint is the manager's message URL;
// fqdn/serverBootTime/clientStartTime are the process-wide constants
// captured once at agent startup per spec.md §4.1.
func New(httpClient *http.Client, endpoint *url.URL, fqdn, serverBootTime, clientStartTime string) *Client {
	return &Client{
		httpClient:      httpClient,
		endpoint:        endpoint,
		fqdn:            fqdn,
		serverBootTime:  serverBootTime,
		clientStartTime: clientStartTime,
	}
}

// Get long-polls the manager's message endpoint and decodes the inbound
// message list.
func (c *Client) Get(ctx context.Context) (message.ManagerMessages, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("server_boot_time", c.serverBootTime)
	q.Set("client_start_time", c.clientStartTime)
	q.Set("collection", "2")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return message.ManagerMessages{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return message.ManagerMessages{}, fmt.Errorf("transport: get: %w: %v", errors.ErrTransportFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return message.ManagerMessages{}, fmt.Errorf("transport: get: %w: status %d", errors.ErrUnexpectedStatus, resp.StatusCode)
	}

	var mm message.ManagerMessages
	if err := json.NewDecoder(resp.Body).Decode(&mm); err != nil {
		return message.ManagerMessages{}, fmt.Errorf("transport: decode: %w: %v", errors.ErrMalformedEnvelope, err)
	}
	return mm, nil
}

// CreateSession posts a SessionCreateRequest for plugin.
func (c *Client) CreateSession(ctx context.Context, plugin string) error {
	return c.post(ctx, message.Outbound{
		SessionCreateRequest: &message.SessionCreateRequest{FQDN: c.fqdn, Plugin: plugin},
	})
}

// SendData posts a Data message with the given session info and body.
func (c *Client) SendData(ctx context.Context, info session.Info, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal data body: %w", err)
	}

	return c.post(ctx, message.Outbound{
		Data: &message.Data{
			FQDN:       c.fqdn,
			Plugin:     info.Plugin,
			SessionID:  info.SessionID,
			SessionSeq: info.Seq,
			Body:       raw,
		},
	})
}

func (c *Client) post(ctx context.Context, msg message.Outbound) error {
	env := message.NewEnvelope([]message.Outbound{msg}, c.serverBootTime, c.clientStartTime)

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: post: %w: %v", errors.ErrTransportFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("transport: post: %w: status %d", errors.ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
