package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/D-E-N/PatrowlManager/queue"
)

// defaultTimeout bounds checks run without a deadline.
const defaultTimeout = 5 * time.Second

// NetworkCheck verifies TCP connectivity to a host and port.
//
// Example:
//
//	status := health.NetworkCheck(ctx, "etcd.internal", 2379)
//	if status.IsUnhealthy() {
//	    log.Println("registry unreachable")
//	}
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}

	if port <= 0 || port > 65535 {
		return Unhealthy(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{
				"host":  host,
				"port":  port,
				"error": err.Error(),
			},
		)
	}
	conn.Close()

	return Healthy(fmt.Sprintf("successfully connected to %s", address))
}

// AddressCheck is NetworkCheck for a "host:port" address.
func AddressCheck(ctx context.Context, address string) Status {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("invalid address %q", address),
			map[string]any{"error": err.Error()},
		)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("invalid port in address %q", address),
			map[string]any{"error": err.Error()},
		)
	}
	return NetworkCheck(ctx, host, port)
}

// FileCheck verifies that a file or directory exists at path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}

	fileType := "file"
	if info.IsDir() {
		fileType = "directory"
	}
	return Healthy(fmt.Sprintf("%s '%s' exists", fileType, path))
}

// WritableDirCheck verifies that dir exists and accepts new files. The media
// root must pass it for uploads to succeed.
func WritableDirCheck(dir string) Status {
	if st := FileCheck(dir); !st.IsHealthy() {
		return st
	}

	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("directory '%s' is not writable", dir),
			map[string]any{
				"path":  dir,
				"error": err.Error(),
			},
		)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	return Healthy(fmt.Sprintf("directory '%s' is writable", dir))
}

// RedisCheck pings Redis. A round trip slower than slow reports degraded;
// a zero slow disables that threshold.
func RedisCheck(ctx context.Context, client redis.UniversalClient, slow time.Duration) Status {
	if client == nil {
		return Unhealthy("redis client is not configured", nil)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return Unhealthy("redis ping failed", map[string]any{"error": err.Error()})
	}
	latency := time.Since(start)

	if slow > 0 && latency > slow {
		return Degraded(
			fmt.Sprintf("redis ping took %s", latency),
			map[string]any{
				"latency_ms":   latency.Milliseconds(),
				"threshold_ms": slow.Milliseconds(),
			},
		)
	}
	return Healthy("redis is reachable")
}

// QueueCheck reports the backlog of an import queue and the workers serving
// it. No live worker on the queue reports degraded: uploads are accepted but
// nothing imports them.
func QueueCheck(ctx context.Context, client queue.Client, name string) Status {
	if client == nil {
		return Unhealthy("queue client is not configured", nil)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	pending, err := client.Len(ctx, name)
	if err != nil {
		return Unhealthy("failed to read queue length", map[string]any{"queue": name, "error": err.Error()})
	}
	consumers, err := client.GetWorkerCount(ctx, name)
	if err != nil {
		return Unhealthy("failed to read worker count", map[string]any{"queue": name, "error": err.Error()})
	}
	workers, err := client.ListWorkers(ctx)
	if err != nil {
		return Unhealthy("failed to list workers", map[string]any{"queue": name, "error": err.Error()})
	}

	live := 0
	for _, w := range workers {
		if w.Queue == name {
			live++
		}
	}

	details := map[string]any{
		"queue":        name,
		"pending":      pending,
		"consumers":    consumers,
		"live_workers": live,
	}
	if live == 0 {
		return Degraded(fmt.Sprintf("no live worker serves queue %q", name), details)
	}
	return Status{
		State:   StateHealthy,
		Message: fmt.Sprintf("%d worker(s) serve queue %q", live, name),
		Details: details,
	}
}

// Combine aggregates multiple statuses into one.
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.State {
		case StateUnhealthy:
			unhealthyChecks = append(unhealthyChecks, msg)
		case StateDegraded:
			degradedChecks = append(degradedChecks, msg)
		case StateHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
