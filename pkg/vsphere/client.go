// Package vsphere implements the fleet manager contract against the
// vCenter Automation REST API. The client keeps one authenticated API
// session and resolves host names to their managed-object identifiers on
// first use.
package vsphere

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/fleet"
)

// MinVersion is the oldest vCenter product version the rolling update is
// supported against. Older releases lack the REST surface this client
// drives.
const MinVersion = "6.7.0"

const sessionHeader = "vmware-api-session-id"

// Config describes a vCenter endpoint.
type Config struct {
	// URL is the vCenter base URL, e.g. https://vcenter.example.com.
	URL      string
	Username string
	Password string
	// Insecure skips TLS certificate verification. Lab use only.
	Insecure bool
	// Timeout bounds a single API call; zero uses a 30s default.
	Timeout time.Duration

	Log *logrus.Entry
}

// Client talks to one vCenter. Safe for use from a single orchestration
// flow; the session token and host-ID cache are still guarded so a
// progress reporter on another goroutine cannot race them.
type Client struct {
	base     string
	username string
	password string
	http     *http.Client
	log      *logrus.Entry

	mu      sync.Mutex
	session string
	hostIDs map[string]string
}

var _ fleet.Manager = (*Client)(nil)

// NewClient creates a client. Call Login before issuing operations.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vcenter URL is required")
	}
	base := strings.TrimRight(cfg.URL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid vcenter URL %q: %w", cfg.URL, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		log:      log.WithField("endpoint", base),
		hostIDs:  make(map[string]string),
	}, nil
}

// Login establishes the API session and verifies the product version
// meets MinVersion.
func (c *Client) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/session", nil)
	if err != nil {
		return fmt.Errorf("failed to create session request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open vcenter session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vcenter session rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token string
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("failed to decode session token: %w", err)
	}
	c.mu.Lock()
	c.session = token
	c.mu.Unlock()
	c.log.Debug("vcenter session established")

	return c.checkVersion(ctx)
}

// Logout ends the API session.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/api/session", nil, nil, nil)
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
	return err
}

// checkVersion refuses endpoints older than MinVersion. It bypasses the
// re-login path in do: Login calls it with a fresh session already in
// hand, and a 401 here must surface instead of recursing into Login.
func (c *Client) checkVersion(ctx context.Context) error {
	status, data, err := c.roundTrip(ctx, http.MethodGet, "/api/appliance/system/version", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to read vcenter version: %w", err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("failed to read vcenter version: status %d", status)
	}
	var info struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to decode vcenter version: %w", err)
	}
	v, err := version.NewVersion(info.Version)
	if err != nil {
		return fmt.Errorf("unparseable vcenter version %q: %w", info.Version, err)
	}
	minimum := version.Must(version.NewVersion(MinVersion))
	if v.LessThan(minimum) {
		return fmt.Errorf("vcenter %s is older than the minimum supported %s", info.Version, MinVersion)
	}
	c.log.WithField("version", info.Version).Debug("vcenter version accepted")
	return nil
}

// do issues one API call, decoding a JSON response into out when out is
// non-nil. An expired session is re-established once.
func (c *Client) do(ctx context.Context, method, p string, query url.Values, body, out interface{}) error {
	relogin := true
	for {
		status, data, err := c.roundTrip(ctx, method, p, query, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized && relogin {
			relogin = false
			c.log.Debug("vcenter session expired, re-authenticating")
			if err := c.Login(ctx); err != nil {
				return err
			}
			continue
		}
		if status < 200 || status > 299 {
			return fmt.Errorf("vcenter returned status %d for %s %s: %s", status, method, p, strings.TrimSpace(string(data)))
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode vcenter response for %s: %w", p, err)
		}
		return nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, p string, query url.Values, body interface{}) (int, []byte, error) {
	u := c.base + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("vcenter request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read vcenter response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// hostSummary is the wire shape of a host list entry.
type hostSummary struct {
	Host            string `json:"host"`
	Name            string `json:"name"`
	ConnectionState string `json:"connection_state"`
	PowerState      string `json:"power_state"`
	InMaintenance   bool   `json:"maintenance_mode"`
}

func (h hostSummary) connectivity() fleet.ConnectivityState {
	// Maintenance is reported separately from the connection state; a
	// drained host is still connected.
	if h.InMaintenance && strings.EqualFold(h.ConnectionState, "CONNECTED") {
		return fleet.StateMaintenance
	}
	return fleet.ParseConnectivityState(h.ConnectionState)
}

// ListNodes returns the cluster members whose names match the shell glob
// pattern.
func (c *Client) ListNodes(ctx context.Context, cluster, pattern string) ([]fleet.Node, error) {
	var clusters []struct {
		Cluster string `json:"cluster"`
		Name    string `json:"name"`
	}
	q := url.Values{"names": []string{cluster}}
	if err := c.do(ctx, http.MethodGet, "/api/vcenter/cluster", q, nil, &clusters); err != nil {
		return nil, fmt.Errorf("failed to look up cluster %s: %w", cluster, err)
	}
	if len(clusters) == 0 {
		return nil, fmt.Errorf("no cluster named %s", cluster)
	}

	var hosts []hostSummary
	q = url.Values{"clusters": []string{clusters[0].Cluster}}
	if err := c.do(ctx, http.MethodGet, "/api/vcenter/host", q, nil, &hosts); err != nil {
		return nil, fmt.Errorf("failed to list hosts in cluster %s: %w", cluster, err)
	}

	var nodes []fleet.Node
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hosts {
		ok, err := path.Match(pattern, h.Name)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if !ok {
			continue
		}
		c.hostIDs[h.Name] = h.Host
		nodes = append(nodes, fleet.Node{Name: h.Name, State: h.connectivity()})
	}
	return nodes, nil
}

// hostID resolves a host name to its managed-object identifier, caching
// the result for the client's lifetime.
func (c *Client) hostID(ctx context.Context, node string) (string, error) {
	c.mu.Lock()
	id, ok := c.hostIDs[node]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var hosts []hostSummary
	q := url.Values{"names": []string{node}}
	if err := c.do(ctx, http.MethodGet, "/api/vcenter/host", q, nil, &hosts); err != nil {
		return "", fmt.Errorf("failed to look up host %s: %w", node, err)
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("no host named %s", node)
	}
	c.mu.Lock()
	c.hostIDs[node] = hosts[0].Host
	c.mu.Unlock()
	return hosts[0].Host, nil
}

// State returns the node's current connectivity state.
func (c *Client) State(ctx context.Context, node string) (fleet.ConnectivityState, error) {
	var hosts []hostSummary
	q := url.Values{"names": []string{node}}
	if err := c.do(ctx, http.MethodGet, "/api/vcenter/host", q, nil, &hosts); err != nil {
		return fleet.StateUnknown, fmt.Errorf("failed to read state of %s: %w", node, err)
	}
	if len(hosts) == 0 {
		return fleet.StateUnknown, fmt.Errorf("no host named %s", node)
	}
	return hosts[0].connectivity(), nil
}

// hostAction issues one of the ?action= operations on a host.
func (c *Client) hostAction(ctx context.Context, node, action string) error {
	id, err := c.hostID(ctx, node)
	if err != nil {
		return err
	}
	q := url.Values{"action": []string{action}}
	return c.do(ctx, http.MethodPost, "/api/vcenter/host/"+id, q, nil, nil)
}

// Drain evacuates workloads and places the node in maintenance. The
// request is asynchronous; completion is observed through State.
func (c *Client) Drain(ctx context.Context, node string) error {
	if err := c.hostAction(ctx, node, "enter_maintenance_mode"); err != nil {
		return fmt.Errorf("failed to request maintenance on %s: %w", node, err)
	}
	return nil
}

// ExitMaintenance returns a drained node to service.
func (c *Client) ExitMaintenance(ctx context.Context, node string) error {
	if err := c.hostAction(ctx, node, "exit_maintenance_mode"); err != nil {
		return fmt.Errorf("failed to exit maintenance on %s: %w", node, err)
	}
	return nil
}

// Shutdown issues a graceful guest OS shutdown on the host.
func (c *Client) Shutdown(ctx context.Context, node string) error {
	if err := c.hostAction(ctx, node, "shutdown"); err != nil {
		return fmt.Errorf("failed to shut down %s: %w", node, err)
	}
	return nil
}

// networkAdapter is the wire shape of a physical NIC list entry.
type networkAdapter struct {
	Device        string `json:"device"`
	MACAddress    string `json:"mac_address"`
	LinkSpeedMbps int    `json:"link_speed_mbps"`
}

// ActiveIdentity returns the hardware address of the node's first
// physical adapter reporting nonzero link speed.
func (c *Client) ActiveIdentity(ctx context.Context, node string) (fleet.Identity, error) {
	id, err := c.hostID(ctx, node)
	if err != nil {
		return fleet.Identity{}, err
	}
	var adapters []networkAdapter
	if err := c.do(ctx, http.MethodGet, "/api/vcenter/host/"+id+"/network-adapters", nil, nil, &adapters); err != nil {
		return fleet.Identity{}, fmt.Errorf("failed to list network adapters of %s: %w", node, err)
	}
	for _, a := range adapters {
		if a.LinkSpeedMbps > 0 {
			return fleet.Identity{
				MAC: strings.ToUpper(a.MACAddress),
				NIC: a.Device,
			}, nil
		}
	}
	return fleet.Identity{}, fmt.Errorf("no active network adapter on %s", node)
}

// Remediate applies the named compliance baseline to the drained node.
func (c *Client) Remediate(ctx context.Context, node, baseline string) error {
	id, err := c.hostID(ctx, node)
	if err != nil {
		return err
	}
	body := map[string]string{"baseline": baseline}
	q := url.Values{"action": []string{"remediate"}}
	if err := c.do(ctx, http.MethodPost, "/api/vcenter/host/"+id+"/compliance", q, body, nil); err != nil {
		return fmt.Errorf("failed to remediate %s against baseline %s: %w", node, baseline, err)
	}
	return nil
}
