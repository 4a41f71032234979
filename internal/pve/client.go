// Package pve is a thin client for the Proxmox VE management API.
package pve

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/models"
)

// DefaultPort is the port the Proxmox API listens on.
const DefaultPort = 8006

// Guest lifecycle actions accepted by GuestAction.
const (
	ActionStart    = "start"
	ActionShutdown = "shutdown"
	ActionStop     = "stop"
	ActionReboot   = "reboot"
)

// Client is the set of cluster operations the monitor consumes.
type Client interface {
	TestConnection(ctx context.Context) error
	ListClusterGuestResources(ctx context.Context) ([]models.Record, error)
	ListNodes(ctx context.Context) ([]models.Record, error)
	GetNodeStatus(ctx context.Context, node string) (models.Record, error)
	GuestAction(ctx context.Context, node string, id int, kind models.Kind, action string) error
	GetGuestStatus(ctx context.Context, node string, id int, kind models.Kind) (models.Record, error)
	// GetGuestAgentAddresses returns every address reported by the guest
	// agent, unfiltered.
	GetGuestAgentAddresses(ctx context.Context, node string, id int) ([]string, error)
}

// Config holds the connection settings for one cluster.
type Config struct {
	Host       string
	Port       int
	TokenName  string // USER@REALM!TOKENID
	TokenValue string
	VerifySSL  bool
	Timeout    time.Duration
}

// HTTPClient implements Client over HTTPS with API token authentication.
type HTTPClient struct {
	cfg       Config
	baseURL   string
	transport *http.Transport
	hc        *http.Client
}

// NewClient creates a new cluster API client.
func NewClient(cfg Config) *HTTPClient {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !cfg.VerifySSL, //nolint:gosec // self-signed cluster certificates are common
	}

	return &HTTPClient{
		cfg:       cfg,
		baseURL:   fmt.Sprintf("https://%s/api2/json", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		transport: transport,
		hc: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the API root the client talks to.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections held by the client's transport.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// TestConnection verifies the host is reachable and the token is accepted.
func (c *HTTPClient) TestConnection(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

// Version returns the cluster's /version payload.
func (c *HTTPClient) Version(ctx context.Context) (models.Record, error) {
	var out models.Record
	if err := c.request(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClusterStatus returns the /cluster/status entries.
func (c *HTTPClient) ClusterStatus(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	if err := c.request(ctx, http.MethodGet, "/cluster/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListClusterGuestResources lists every VM and container in the cluster.
func (c *HTTPClient) ListClusterGuestResources(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	if err := c.request(ctx, http.MethodGet, "/cluster/resources", url.Values{"type": {"vm"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListNodes lists the cluster's compute nodes.
func (c *HTTPClient) ListNodes(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	if err := c.request(ctx, http.MethodGet, "/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNodeStatus returns the status payload of one node.
func (c *HTTPClient) GetNodeStatus(ctx context.Context, node string) (models.Record, error) {
	var out models.Record
	path := fmt.Sprintf("/nodes/%s/status", url.PathEscape(node))
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GuestAction issues a lifecycle action against a guest.
func (c *HTTPClient) GuestAction(ctx context.Context, node string, id int, kind models.Kind, action string) error {
	path := fmt.Sprintf("/nodes/%s/%s/%d/status/%s", url.PathEscape(node), kind.APIType(), id, url.PathEscape(action))
	return c.request(ctx, http.MethodPost, path, nil, nil)
}

// GetGuestStatus returns the current status of a guest.
func (c *HTTPClient) GetGuestStatus(ctx context.Context, node string, id int, kind models.Kind) (models.Record, error) {
	var out models.Record
	path := fmt.Sprintf("/nodes/%s/%s/%d/status/current", url.PathEscape(node), kind.APIType(), id)
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type agentInterfaces struct {
	Result []struct {
		Name        string `json:"name"`
		IPAddresses []struct {
			IPAddress string `json:"ip-address"`
			Type      string `json:"ip-address-type"`
		} `json:"ip-addresses"`
	} `json:"result"`
}

// GetGuestAgentAddresses asks the QEMU guest agent for its interfaces.
func (c *HTTPClient) GetGuestAgentAddresses(ctx context.Context, node string, id int) ([]string, error) {
	var out agentInterfaces
	path := fmt.Sprintf("/nodes/%s/qemu/%d/agent/network-get-interfaces", url.PathEscape(node), id)
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	var addrs []string
	for _, iface := range out.Result {
		for _, ip := range iface.IPAddresses {
			if ip.IPAddress != "" {
				addrs = append(addrs, ip.IPAddress)
			}
		}
	}
	return addrs, nil
}

// envelope is the wrapper every API response is delivered in.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *HTTPClient) request(ctx context.Context, method, path string, query url.Values, result interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return &APIError{Path: path, Message: "creating request", Err: err}
	}
	req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s=%s", c.cfg.TokenName, c.cfg.TokenValue))
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &APIError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Path: path, Message: "reading response", Err: err}
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Path: path, Message: string(bytes.TrimSpace(body))}
	}

	if result == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &APIError{Path: path, Message: "decoding response", Err: err}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return &APIError{Path: path, Message: "decoding response data", Err: err}
	}
	return nil
}
