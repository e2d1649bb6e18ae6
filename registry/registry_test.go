package registry

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceInfo_Validate(t *testing.T) {
	valid := ServiceInfo{Kind: KindWorker, Name: "findings", InstanceID: "host-1-abcd"}

	tests := []struct {
		name    string
		mutate  func(*ServiceInfo)
		wantErr string
	}{
		{"valid worker", func(*ServiceInfo) {}, ""},
		{"valid api", func(s *ServiceInfo) { s.Kind = KindAPI }, ""},
		{"unknown kind", func(s *ServiceInfo) { s.Kind = "agent" }, "invalid kind"},
		{"no name", func(s *ServiceInfo) { s.Name = "" }, "name is required"},
		{"no instance", func(s *ServiceInfo) { s.InstanceID = "" }, "instance_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := valid
			tt.mutate(&info)
			err := info.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "/patrowl/worker/findings/w-1", buildKey("patrowl", KindWorker, "findings", "w-1"))
	assert.Equal(t, "/patrowl/api/", kindPrefix("patrowl", KindAPI))
	assert.Equal(t, "/patrowl/api/findings/", kindNamePrefix("patrowl", KindAPI, "findings"))
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{Endpoints: []string{"localhost:2379"}})
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
	assert.Equal(t, DefaultTTL, cfg.TTL)

	cfg = withDefaults(Config{Namespace: "/staging/", TTL: 10})
	assert.Equal(t, "staging", cfg.Namespace)
	assert.Equal(t, 10, cfg.TTL)
}

func TestKeepaliveInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, keepaliveInterval(30))
	assert.Equal(t, time.Second, keepaliveInterval(1))
}

func TestEndpointsFromEnv(t *testing.T) {
	t.Setenv(EnvEndpoints, "")
	assert.Nil(t, EndpointsFromEnv())

	t.Setenv(EnvEndpoints, " etcd-1:2379, ,etcd-2:2379 ")
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, EndpointsFromEnv())
}

func TestNewClient_NoEndpoints(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	assert.False(t, Config{}.Enabled())
}

func TestDecodeInstances(t *testing.T) {
	values := [][]byte{
		[]byte(`{"kind":"worker","name":"findings","instance_id":"w-1","metadata":{"queue":"default"}}`),
		[]byte(`not json`),
		[]byte(`{"kind":"api","name":"findings","instance_id":"a-1","endpoint":"10.0.0.5:8080"}`),
	}
	got := decodeInstances(values, slog.Default())
	require.Len(t, got, 2)
	assert.Equal(t, "default", got[0].Metadata[MetaQueue])
	assert.Equal(t, "10.0.0.5:8080", got[1].Endpoint)
}

func TestNewTLSInfo(t *testing.T) {
	info, err := newTLSInfo(nil)
	assert.NoError(t, err)
	assert.Nil(t, info)

	info, err = newTLSInfo(&TLSConfig{Enabled: false, CertFile: "x"})
	assert.NoError(t, err)
	assert.Nil(t, info)

	tests := []struct {
		name string
		cfg  TLSConfig
		want string
	}{
		{"no cert", TLSConfig{Enabled: true, KeyFile: "k", CAFile: "c"}, "cert file"},
		{"no key", TLSConfig{Enabled: true, CertFile: "c", CAFile: "c"}, "key file"},
		{"no ca", TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"}, "CA file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTLSInfo(&tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// writeCert writes a self-signed certificate and its key as PEM files.
func writeCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "patrowl-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "client.pem")
	keyFile = filepath.Join(dir, "client-key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestTLSInfo_ClientConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeCert(t, dir)

	info, err := newTLSInfo(&TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
	require.NoError(t, err)

	cfg, err := info.ClientConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.RootCAs)

	t.Run("bad CA", func(t *testing.T) {
		bad := filepath.Join(dir, "ca.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
		info, err := newTLSInfo(&TLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile, CAFile: bad})
		require.NoError(t, err)
		_, err = info.ClientConfig()
		assert.ErrorContains(t, err, "failed to parse CA certificate")
	})

	t.Run("missing key pair", func(t *testing.T) {
		info, err := newTLSInfo(&TLSConfig{Enabled: true, CertFile: filepath.Join(dir, "none.pem"), KeyFile: keyFile, CAFile: certFile})
		require.NoError(t, err)
		_, err = info.ClientConfig()
		assert.ErrorContains(t, err, "failed to load client certificate")
	})
}
