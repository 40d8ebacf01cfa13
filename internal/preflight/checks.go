package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"
)

const checkTimeout = 5 * time.Second

// Pinger is anything with a context-aware liveness probe, such as
// *database.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) CheckResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return CheckResult{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDatabase pings the outbox database.
func CheckDatabase(ctx context.Context, db Pinger) CheckResult {
	const name = "Database"
	if db == nil {
		return CheckResult{Name: name, Detail: "not opened"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := db.Ping(checkCtx); err != nil {
		return CheckResult{Name: name, Detail: summarizeError(err)}
	}
	return CheckResult{Name: name, Passed: true, Detail: "reachable"}
}

// CheckRedis pings the shared rate limiter backend.
func CheckRedis(ctx context.Context, client goredis.UniversalClient) CheckResult {
	const name = "Redis"
	if client == nil {
		return CheckResult{Name: name, Detail: "not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return CheckResult{Name: name, Detail: summarizeError(err)}
	}
	return CheckResult{Name: name, Passed: true, Detail: "PONG"}
}

// CheckRules reports which rule set is active and whether the last reload failed.
func CheckRules(ctx context.Context, loader *Loader) CheckResult {
	const name = "Preflight rules"
	if loader == nil {
		return CheckResult{Name: name, Detail: "not loaded"}
	}
	rs := loader.Rules(ctx)
	detail := fmt.Sprintf("version %s, %d platforms", rs.Version, len(rs.Platforms))
	if err := loader.LastError(); err != nil {
		return CheckResult{Name: name, Detail: fmt.Sprintf("%s (last load failed: %v)", detail, err)}
	}
	return CheckResult{Name: name, Passed: true, Detail: detail}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (unreachable)"
	}
	return err.Error()
}
