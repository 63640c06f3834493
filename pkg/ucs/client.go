// Package ucs implements the hardware manager contract against the UCS
// Manager XML API. All calls are POSTs of small XML documents to the
// /nuova endpoint, authenticated by a session cookie.
package ucs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MallocArray/Update-UCSFirmware/pkg/hardware"
)

// Config describes a UCS Manager endpoint.
type Config struct {
	// URL is the manager base URL, e.g. https://ucsm.example.com.
	URL      string
	Username string
	Password string
	// Insecure skips TLS certificate verification. Lab use only.
	Insecure bool
	// Timeout bounds a single API call; zero uses a 30s default.
	Timeout time.Duration

	Log *logrus.Entry
}

// Client talks to one UCS Manager.
type Client struct {
	endpoint string
	username string
	password string
	http     *http.Client
	log      *logrus.Entry

	mu     sync.Mutex
	cookie string
}

var _ hardware.Manager = (*Client)(nil)

// NewClient creates a client. Call Login before issuing operations.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ucs URL is required")
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
		endpoint: strings.TrimRight(cfg.URL, "/") + "/nuova",
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		log:      log.WithField("endpoint", cfg.URL),
	}, nil
}

// Login opens an API session.
func (c *Client) Login(ctx context.Context) error {
	data, err := c.post(ctx, aaaLoginRequest{InName: c.username, InPassword: c.password})
	if err != nil {
		return fmt.Errorf("failed to log in to ucs: %w", err)
	}
	if err := faultOf(data); err != nil {
		return fmt.Errorf("ucs login rejected: %w", err)
	}
	var resp loginResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to decode ucs login response: %w", err)
	}
	if resp.OutCookie == "" {
		return fmt.Errorf("ucs login returned no session cookie")
	}
	c.mu.Lock()
	c.cookie = resp.OutCookie
	c.mu.Unlock()
	c.log.WithField("version", resp.OutVersion).Debug("ucs session established")
	return nil
}

// Logout closes the API session.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	cookie := c.cookie
	c.cookie = ""
	c.mu.Unlock()
	if cookie == "" {
		return nil
	}
	data, err := c.post(ctx, aaaLogoutRequest{InCookie: cookie})
	if err != nil {
		return fmt.Errorf("failed to log out of ucs: %w", err)
	}
	return faultOf(data)
}

func (c *Client) currentCookie() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie
}

// post sends one XML document and returns the raw response body.
func (c *Client) post(ctx context.Context, req interface{}) ([]byte, error) {
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ucs request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ucs request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ucs request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ucs response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ucs returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// faultOf extracts an API fault from a response document, if present.
func faultOf(data []byte) error {
	var probe struct {
		Code  string `xml:"errorCode,attr"`
		Descr string `xml:"errorDescr,attr"`
	}
	if err := xml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to decode ucs response: %w", err)
	}
	if probe.Code != "" {
		return &Error{Code: probe.Code, Descr: probe.Descr}
	}
	return nil
}

// call issues one authenticated method. build produces the request for a
// given session cookie so an expired session can be re-established and the
// call replayed once.
func (c *Client) call(ctx context.Context, build func(cookie string) interface{}, out interface{}) error {
	relogin := true
	for {
		data, err := c.post(ctx, build(c.currentCookie()))
		if err != nil {
			return err
		}
		if err := faultOf(data); err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && apiErr.sessionExpired() && relogin {
				relogin = false
				c.log.Debug("ucs session expired, re-authenticating")
				if err := c.Login(ctx); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if out == nil {
			return nil
		}
		if err := xml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode ucs response: %w", err)
		}
		return nil
	}
}

func (c *Client) resolveClass(ctx context.Context, classID string, filter *inFilter) (*classResponse, error) {
	var resp classResponse
	err := c.call(ctx, func(cookie string) interface{} {
		return resolveClassRequest{
			Cookie:         cookie,
			ClassID:        classID,
			InHierarchical: "false",
			InFilter:       filter,
		}
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) resolveChildren(ctx context.Context, inDn, classID string) (*classResponse, error) {
	var resp classResponse
	err := c.call(ctx, func(cookie string) interface{} {
		return resolveChildrenRequest{
			Cookie:         cookie,
			InDn:           inDn,
			ClassID:        classID,
			InHierarchical: "false",
		}
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) resolveDn(ctx context.Context, dn string) (*dnResponse, error) {
	var resp dnResponse
	err := c.call(ctx, func(cookie string) interface{} {
		return resolveDnRequest{Cookie: cookie, Dn: dn, InHierarchical: "false"}
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) confMo(ctx context.Context, dn string, config inConfig) error {
	return c.call(ctx, func(cookie string) interface{} {
		return confMoRequest{
			Cookie:         cookie,
			Dn:             dn,
			InHierarchical: "false",
			InConfig:       config,
		}
	}, nil)
}

// parentDN strips the last path segment of a distinguished name.
func parentDN(dn string) string {
	i := strings.LastIndex(dn, "/")
	if i < 0 {
		return ""
	}
	return dn[:i]
}

// ProfilesByIdentity finds every service profile owning a vNIC with the
// given hardware address. The vNIC query yields the interface DNs; each
// parent DN is resolved to confirm it is a profile instance.
func (c *Client) ProfilesByIdentity(ctx context.Context, mac string) ([]hardware.Profile, error) {
	resp, err := c.resolveClass(ctx, classVnicEther, &inFilter{Eq: &eqFilter{
		Class:    classVnicEther,
		Property: "addr",
		Value:    strings.ToUpper(mac),
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to query interfaces for %s: %w", mac, err)
	}

	seen := make(map[string]bool)
	var dns []string
	for _, v := range resp.OutConfigs.Vnics {
		dn := parentDN(v.DN)
		if dn == "" || seen[dn] {
			continue
		}
		seen[dn] = true
		dns = append(dns, dn)
	}
	sort.Strings(dns)

	var profiles []hardware.Profile
	for _, dn := range dns {
		p, err := c.profile(ctx, dn)
		if err != nil {
			return nil, err
		}
		if p == nil {
			// The interface hangs off something other than a service
			// profile (a template, typically).
			continue
		}
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

// profile snapshots one service profile, or returns nil if the DN does not
// name one.
func (c *Client) profile(ctx context.Context, dn string) (*hardware.Profile, error) {
	resp, err := c.resolveDn(ctx, dn)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile %s: %w", dn, err)
	}
	srv := resp.OutConfig.Server
	if srv == nil {
		return nil, nil
	}

	acks, err := c.PendingAcks(ctx, dn)
	if err != nil {
		return nil, err
	}
	power := hardware.PowerUnknown
	if srv.PnDn != "" {
		power, err = c.endpointPower(ctx, srv.PnDn)
		if err != nil {
			return nil, err
		}
	}
	return &hardware.Profile{
		DN:             srv.DN,
		Name:           srv.Name,
		Domain:         parentDN(srv.DN),
		FirmwarePolicy: srv.HostFwPolicyName,
		Power:          power,
		Association:    associationOf(srv),
		PendingAcks:    len(acks),
		BoundTo:        srv.PnDn,
	}, nil
}

// associationOf maps the profile's assocState, promoting configuration
// failures reported through operState to the failed state.
func associationOf(srv *lsServerMo) hardware.AssociationState {
	state := hardware.ParseAssociationState(srv.AssocState)
	if state != hardware.AssociationAssociated && strings.Contains(srv.OperState, "fail") {
		return hardware.AssociationFailed
	}
	return state
}

// FirmwareTargets lists the host firmware packs defined directly in the
// given organizational domain.
func (c *Client) FirmwareTargets(ctx context.Context, domain string) ([]hardware.FirmwareTarget, error) {
	resp, err := c.resolveClass(ctx, classHostPack, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list firmware packs: %w", err)
	}
	var targets []hardware.FirmwareTarget
	for _, p := range resp.OutConfigs.Packs {
		if parentDN(p.DN) != domain {
			continue
		}
		targets = append(targets, hardware.FirmwareTarget{Name: p.Name, Domain: domain})
	}
	return targets, nil
}

// endpointPower reads the physical endpoint's power state.
func (c *Client) endpointPower(ctx context.Context, endpointDN string) (hardware.PowerState, error) {
	resp, err := c.resolveDn(ctx, endpointDN)
	if err != nil {
		return hardware.PowerUnknown, fmt.Errorf("failed to resolve endpoint %s: %w", endpointDN, err)
	}
	var mo *computeMo
	switch {
	case resp.OutConfig.Blade != nil:
		mo = resp.OutConfig.Blade
	case resp.OutConfig.Rack != nil:
		mo = resp.OutConfig.Rack
	default:
		return hardware.PowerUnknown, fmt.Errorf("no compute endpoint at %s", endpointDN)
	}
	return hardware.ParsePowerState(mo.OperPower), nil
}

// PowerState returns the power state of the endpoint bound to the profile.
func (c *Client) PowerState(ctx context.Context, profileDN string) (hardware.PowerState, error) {
	resp, err := c.resolveDn(ctx, profileDN)
	if err != nil {
		return hardware.PowerUnknown, fmt.Errorf("failed to resolve profile %s: %w", profileDN, err)
	}
	srv := resp.OutConfig.Server
	if srv == nil {
		return hardware.PowerUnknown, fmt.Errorf("no profile at %s", profileDN)
	}
	if srv.PnDn == "" {
		return hardware.PowerUnknown, fmt.Errorf("profile %s is not bound to an endpoint", profileDN)
	}
	return c.endpointPower(ctx, srv.PnDn)
}

// SetPowerState requests the desired power state through the profile's
// power controller object.
func (c *Client) SetPowerState(ctx context.Context, profileDN string, desired hardware.PowerState) error {
	var action string
	switch desired {
	case hardware.PowerOn:
		action = powerActionUp
	case hardware.PowerOff:
		action = powerActionDown
	default:
		return fmt.Errorf("cannot request power state %q", desired)
	}
	powerDN := profileDN + "/power"
	err := c.confMo(ctx, powerDN, inConfig{Power: &lsPowerMo{DN: powerDN, State: action}})
	if err != nil {
		return fmt.Errorf("failed to set power %s on %s: %w", desired, profileDN, err)
	}
	return nil
}

// SetFirmwarePolicy binds the profile to the named host firmware pack.
func (c *Client) SetFirmwarePolicy(ctx context.Context, profileDN, policy string) error {
	err := c.confMo(ctx, profileDN, inConfig{Server: &lsServerMo{DN: profileDN, HostFwPolicyName: policy}})
	if err != nil {
		return fmt.Errorf("failed to bind %s to firmware policy %s: %w", profileDN, policy, err)
	}
	return nil
}

// PendingAcks lists the maintenance acknowledgments currently gating the
// profile. Acknowledgments already applied or in flight are not pending.
func (c *Client) PendingAcks(ctx context.Context, profileDN string) ([]hardware.Ack, error) {
	resp, err := c.resolveChildren(ctx, profileDN, classMaintAck)
	if err != nil {
		return nil, fmt.Errorf("failed to list acknowledgments on %s: %w", profileDN, err)
	}
	var acks []hardware.Ack
	for _, a := range resp.OutConfigs.Acks {
		if a.AdminState != "untriggered" && a.OperState != "waiting-for-user" {
			continue
		}
		acks = append(acks, hardware.Ack{DN: a.DN, ProfileDN: profileDN, Cause: a.Descr})
	}
	return acks, nil
}

// TriggerAck confirms a pending acknowledgment.
func (c *Client) TriggerAck(ctx context.Context, ack hardware.Ack) error {
	err := c.confMo(ctx, ack.DN, inConfig{Ack: &lsmaintAckMo{DN: ack.DN, AdminState: ackTriggerNow}})
	if err != nil {
		return fmt.Errorf("failed to trigger acknowledgment %s: %w", ack.DN, err)
	}
	return nil
}

// AssociationState returns the profile's association state.
func (c *Client) AssociationState(ctx context.Context, profileDN string) (hardware.AssociationState, error) {
	resp, err := c.resolveDn(ctx, profileDN)
	if err != nil {
		return hardware.AssociationUnknown, fmt.Errorf("failed to resolve profile %s: %w", profileDN, err)
	}
	srv := resp.OutConfig.Server
	if srv == nil {
		return hardware.AssociationUnknown, fmt.Errorf("no profile at %s", profileDN)
	}
	return associationOf(srv), nil
}
