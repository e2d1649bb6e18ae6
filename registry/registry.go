// Package registry announces running findings API servers and import workers
// in etcd so operators and load balancers can discover them.
//
// Each instance writes its ServiceInfo under
// /{namespace}/{kind}/{name}/{instance-id}, bound to a lease that is renewed
// every TTL/3. A crashed instance disappears once its lease expires.
package registry

import (
	"context"
	"fmt"
	"time"
)

// Component kinds.
const (
	KindAPI    = "api"
	KindWorker = "worker"
)

// Metadata keys written by the binaries.
const (
	MetaQueue       = "queue"
	MetaEngines     = "engines"
	MetaConcurrency = "concurrency"
	MetaHealthAddr  = "health_addr"
)

// DefaultNamespace prefixes every key when Config.Namespace is empty.
const DefaultNamespace = "patrowl"

// DefaultTTL is the lease lifetime in seconds when Config.TTL is unset.
const DefaultTTL = 30

// ServiceInfo describes a registered instance.
type ServiceInfo struct {
	// Kind is KindAPI or KindWorker.
	Kind string `json:"kind"`

	// Name groups the instances of one deployment (e.g. "findings").
	Name string `json:"name"`

	Version string `json:"version"`

	// InstanceID is unique per process. Workers use their queue worker id.
	InstanceID string `json:"instance_id"`

	// Endpoint is where the instance answers, "host:port". Workers without
	// a listener leave it empty.
	Endpoint string `json:"endpoint,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// Validate checks the fields that make up the registry key.
func (s ServiceInfo) Validate() error {
	if s.Kind != KindAPI && s.Kind != KindWorker {
		return fmt.Errorf("invalid kind %q", s.Kind)
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	return nil
}

// Registry registers instances and discovers their peers.
type Registry interface {
	// Register writes info under a fresh lease and keeps it alive until
	// Deregister or Close. Registering the same InstanceID again replaces
	// the entry.
	Register(ctx context.Context, info ServiceInfo) error

	// Deregister revokes the instance lease. Unknown instances are a no-op.
	Deregister(ctx context.Context, info ServiceInfo) error

	// Discover lists the instances of kind and name, in arbitrary order.
	Discover(ctx context.Context, kind, name string) ([]ServiceInfo, error)

	// DiscoverAll lists every instance of kind.
	DiscoverAll(ctx context.Context, kind string) ([]ServiceInfo, error)

	// Watch sends the instance list of kind and name now and after every
	// change. The channel closes with ctx or Close.
	Watch(ctx context.Context, kind, name string) (<-chan []ServiceInfo, error)

	Close() error
}

// Config holds the etcd connection settings.
type Config struct {
	// Endpoints lists the etcd members, "host:2379".
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Namespace prefixes every key. Default: "patrowl".
	Namespace string `json:"namespace" yaml:"namespace"`

	// TTL is the lease lifetime in seconds. Default: 30.
	TTL int `json:"ttl" yaml:"ttl"`

	// TLS enables mutual TLS when set and enabled.
	TLS *TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// Enabled reports whether any endpoint is configured. Binaries skip
// registration otherwise.
func (c Config) Enabled() bool {
	return len(c.Endpoints) > 0
}

// TLSConfig holds the client certificate used to reach etcd.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}
