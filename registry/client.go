package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EnvEndpoints names the environment variable holding comma separated etcd
// endpoints.
const EnvEndpoints = "PATROWL_REGISTRY_ENDPOINTS"

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("registry client is closed")

var _ Registry = (*Client)(nil)

// Client implements Registry on etcd.
//
// All methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int
	logger    *slog.Logger

	mu         sync.RWMutex
	leases     map[string]clientv3.LeaseID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to etcd and checks it answers.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("registry endpoints cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = withDefaults(cfg)

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		info, err := newTLSInfo(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		tlsConfig, err := info.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := cli.Get(ctx, cfg.Namespace+"/health-check"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  cfg.Namespace,
		ttl:        cfg.TTL,
		logger:     logger,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// EndpointsFromEnv parses EnvEndpoints. It returns nil when the variable is
// unset or blank.
func EndpointsFromEnv() []string {
	raw := os.Getenv(EnvEndpoints)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var endpoints []string
	for _, ep := range strings.Split(raw, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints
}

func withDefaults(cfg Config) Config {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	cfg.Namespace = strings.Trim(cfg.Namespace, "/")
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return cfg
}

// Register implements Registry.
func (c *Client) Register(ctx context.Context, info ServiceInfo) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("invalid service info: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal service info: %w", err)
	}

	key := buildKey(c.namespace, info.Kind, info.Name, info.InstanceID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.leases[info.InstanceID] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.InstanceID] = cancel

	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, info.InstanceID)

	c.logger.Info("registered in etcd", "key", key, "ttl", c.ttl)
	return nil
}

// Deregister implements Registry.
func (c *Client) Deregister(ctx context.Context, info ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseID, exists := c.leases[info.InstanceID]
	if !exists {
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(c.leases, info.InstanceID)

	c.logger.Info("deregistered from etcd", "instance_id", info.InstanceID)
	return nil
}

// Discover implements Registry.
func (c *Client) Discover(ctx context.Context, kind, name string) ([]ServiceInfo, error) {
	return c.list(ctx, kindNamePrefix(c.namespace, kind, name))
}

// DiscoverAll implements Registry.
func (c *Client) DiscoverAll(ctx context.Context, kind string) ([]ServiceInfo, error) {
	return c.list(ctx, kindPrefix(c.namespace, kind))
}

func (c *Client) list(ctx context.Context, prefix string) ([]ServiceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	return decodeInstances(values, c.logger), nil
}

// Watch implements Registry.
func (c *Client) Watch(ctx context.Context, kind, name string) (<-chan []ServiceInfo, error) {
	instances, err := c.Discover(ctx, kind, name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	ch := make(chan []ServiceInfo, 1)
	ch <- instances

	watchChan := c.client.Watch(ctx, kindNamePrefix(c.namespace, kind, name), clientv3.WithPrefix())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Err() != nil {
					return
				}

				instances, err := c.Discover(ctx, kind, name)
				if err != nil {
					c.logger.Warn("registry watch refresh failed", "kind", kind, "name", name, "error", err)
					continue
				}

				select {
				case ch <- instances:
				case <-ctx.Done():
					return
				case <-c.closedChan:
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close stops keepalives and watches, then closes the etcd client. Leases
// are left to expire so a restart within the TTL keeps the entry visible.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

// keepalive renews the lease every TTL/3 until cancelled or the lease is lost.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(keepaliveInterval(c.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("registry lease lost", "instance_id", instanceID, "error", err)
				c.mu.Lock()
				delete(c.leases, instanceID)
				delete(c.cancelFns, instanceID)
				c.mu.Unlock()
				return
			}
		}
	}
}

func keepaliveInterval(ttl int) time.Duration {
	interval := time.Duration(ttl) * time.Second / 3
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// buildKey returns /namespace/kind/name/instance-id.
func buildKey(namespace, kind, name, instanceID string) string {
	return fmt.Sprintf("/%s/%s/%s/%s", namespace, kind, name, instanceID)
}

func kindPrefix(namespace, kind string) string {
	return fmt.Sprintf("/%s/%s/", namespace, kind)
}

func kindNamePrefix(namespace, kind, name string) string {
	return fmt.Sprintf("/%s/%s/%s/", namespace, kind, name)
}

// decodeInstances parses stored entries, skipping malformed ones.
func decodeInstances(values [][]byte, logger *slog.Logger) []ServiceInfo {
	instances := make([]ServiceInfo, 0, len(values))
	for _, v := range values {
		var info ServiceInfo
		if err := json.Unmarshal(v, &info); err != nil {
			logger.Debug("skipping malformed registry entry", "error", err)
			continue
		}
		instances = append(instances, info)
	}
	return instances
}
