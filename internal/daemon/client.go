// Package daemon is the panel's single entry point for calls to node daemons.
//
// Every call is bounded by a short connect timeout and a request timeout:
// daemons live on a private network and an unreachable node must never
// stall a request or CLI command for long. Transport failures come back as
// apperr daemon errors with a short human readable message.
package daemon

import (
	"context"
	"maps"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/cache"
	"github.com/jbweber/homelab/paddock/internal/domain"
)

const (
	DefaultConnectTimeout = time.Second
	DefaultRequestTimeout = 3 * time.Second

	// StatusTTL bounds how stale a node's server statuses may be
	StatusTTL = 60 * time.Second
	// IPAddressTTL bounds how stale a node's address list may be
	IPAddressTTL = time.Hour
	// IPAddressRetryTTL applies instead when the daemon's list was missing
	IPAddressRetryTTL = time.Minute

	maxErrorBody = 512
)

// DialFunc opens a connection to a daemon
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Resolver looks up a daemon's hostname
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Dial           DialFunc
	Resolver       Resolver
	Cache          *cache.Cache
	Logger         *zap.Logger
}

// Client talks to the daemons of every node; the node is passed per call
type Client struct {
	connectTimeout time.Duration
	requestTimeout time.Duration
	dial           DialFunc
	resolver       Resolver
	cache          *cache.Cache
	logger         *zap.Logger
	rest           *resty.Client
}

// NewClient creates a daemon client
func NewClient(opts Options) *Client {
	c := &Client{
		connectTimeout: opts.ConnectTimeout,
		requestTimeout: opts.RequestTimeout,
		dial:           opts.Dial,
		resolver:       opts.Resolver,
		cache:          opts.Cache,
		logger:         opts.Logger,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = DefaultConnectTimeout
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.dial == nil {
		c.dial = (&net.Dialer{}).DialContext
	}
	if c.resolver == nil {
		c.resolver = net.DefaultResolver
	}
	if c.cache == nil {
		c.cache = cache.New(nil)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.rest = c.newRestClient(c.connectTimeout)
	return c
}

func (c *Client) newRestClient(connectTimeout time.Duration) *resty.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			ctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return c.dial(ctx, network, addr)
		},
		TLSHandshakeTimeout: c.requestTimeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return resty.New().
		SetTransport(transport).
		SetTimeout(c.requestTimeout).
		SetAuthScheme("Bearer").
		SetHeader("Accept", "application/json").
		SetLogger(c.logger.Sugar()).
		SetDisableWarn(true)
}

// SystemInformation asks a daemon to describe itself. A positive
// connectTimeout overrides the client default for this call only.
func (c *Client) SystemInformation(ctx context.Context, node domain.Node, connectTimeout time.Duration) (SystemInfo, error) {
	rc := c.rest
	if connectTimeout > 0 && connectTimeout != c.connectTimeout {
		rc = c.newRestClient(connectTimeout)
		defer rc.GetClient().CloseIdleConnections()
	}

	var info SystemInfo
	if err := c.do(ctx, rc, node, http.MethodGet, "/api/system", nil, &info); err != nil {
		return SystemInfo{}, err
	}
	return info, nil
}

// ServerStatuses returns the state of every server on a node keyed by
// server UUID. Failures are logged and yield an empty map.
func (c *Client) ServerStatuses(ctx context.Context, node domain.Node) map[string]string {
	key := cache.Key{NodeID: node.ID, Kind: cache.KindServerStatuses}
	statuses, err := cache.Remember(c.cache, key, StatusTTL, func() (map[string]string, error) {
		var list []ServerState
		if err := c.do(ctx, c.rest, node, http.MethodGet, "/api/servers", nil, &list); err != nil {
			return nil, err
		}
		out := make(map[string]string, len(list))
		for _, s := range list {
			out[s.UUID] = s.State
		}
		return out, nil
	})
	if err != nil {
		c.logger.Warn("Failed to fetch server statuses",
			zap.Int64("node_id", node.ID),
			zap.String("node", node.Name),
			zap.Error(err))
		return map[string]string{}
	}
	return maps.Clone(statuses)
}

// NodeIPAddresses lists the IPv4 addresses allocations can be created on:
// the node's fqdn when it is a literal IP, its resolved addresses, then
// whatever the daemon reports. Order is kept and duplicates dropped. Each
// source is best-effort; when the daemon's list is missing the result is
// cached for IPAddressRetryTTL only.
func (c *Client) NodeIPAddresses(ctx context.Context, node domain.Node) []string {
	key := cache.Key{NodeID: node.ID, Kind: cache.KindNodeIPs}
	if v, ok := c.cache.Get(key); ok {
		if ips, ok := v.([]string); ok {
			return slices.Clone(ips)
		}
	}

	var out []string
	if _, err := netip.ParseAddr(node.FQDN); err == nil {
		out = appendIPv4(out, node.FQDN)
	} else if resolved, err := c.resolver.LookupHost(ctx, node.FQDN); err != nil {
		c.logger.Warn("Failed to resolve node address",
			zap.Int64("node_id", node.ID),
			zap.String("fqdn", node.FQDN),
			zap.Error(err))
	} else {
		for _, ip := range resolved {
			out = appendIPv4(out, ip)
		}
	}

	ttl := IPAddressTTL
	var reported ipAddresses
	if err := c.do(ctx, c.rest, node, http.MethodGet, "/api/system/ips", nil, &reported); err != nil {
		c.logger.Warn("Failed to fetch daemon IP addresses",
			zap.Int64("node_id", node.ID),
			zap.Error(err))
		ttl = IPAddressRetryTTL
	} else {
		out = append(out, reported.IPAddresses...)
	}

	ips := dedupe(out)
	c.cache.Set(key, ips, ttl)
	return slices.Clone(ips)
}

func appendIPv4(out []string, ip string) []string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Unmap().Is4() {
		return out
	}
	return append(out, addr.Unmap().String())
}

// UpdateServerBuild replaces a server's build on its daemon. It is not retried.
func (c *Client) UpdateServerBuild(ctx context.Context, node domain.Node, serverUUID string, payload BuildPayload) error {
	return c.do(ctx, c.rest, node, http.MethodPatch, "/api/servers/"+url.PathEscape(serverUUID), payload, nil)
}

// CreateServer asks a daemon to install a new server
func (c *Client) CreateServer(ctx context.Context, node domain.Node, payload CreatePayload) error {
	return c.do(ctx, c.rest, node, http.MethodPost, "/api/servers", payload, nil)
}

func (c *Client) do(ctx context.Context, rc *resty.Client, node domain.Node, method, path string, in, out any) error {
	hostPort := net.JoinHostPort(node.FQDN, strconv.Itoa(node.DaemonListen))

	scheme := node.Scheme
	if scheme == "" {
		scheme = "https"
	}

	req := rc.R().
		SetContext(ctx).
		SetAuthToken(node.DaemonTokenID + "." + node.DaemonToken)
	if in != nil {
		req.SetBody(in)
	}
	if out != nil {
		req.SetResult(out).ForceContentType("application/json")
	}

	c.logger.Debug("Daemon request",
		zap.String("method", method),
		zap.String("host", hostPort),
		zap.String("path", path))

	resp, err := req.Execute(method, scheme+"://"+hostPort+path)
	if err != nil {
		return classify(hostPort, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return classify(hostPort, &StatusError{StatusCode: resp.StatusCode(), Body: body})
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
