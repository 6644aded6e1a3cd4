package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"finisher/internal/config"
	"finisher/internal/services"
	"finisher/internal/services/a1111"
)

// serverCheckTimeout caps the health check regardless of configured timeouts.
const serverCheckTimeout = 10 * time.Second

// CheckServer verifies that the generation server answers its memory
// endpoint. A single attempt is made.
func CheckServer(ctx context.Context, cfg *config.Config) Result {
	const name = "Generation server"

	timeout := cfg.StatusTimeout()
	if timeout <= 0 || timeout > serverCheckTimeout {
		timeout = serverCheckTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := a1111.NewClient(a1111.Config{
		BaseURL:        cfg.Server.BaseURL,
		StatusTimeout:  timeout,
		OptionsTimeout: timeout,
	})
	if err := client.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", client.BaseURL(), summarizeServerError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", client.BaseURL())}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckParentAccess verifies that the directory holding a file is usable.
func CheckParentAccess(name, path string) Result {
	result := CheckDirectoryAccess(name, filepath.Dir(path))
	if result.Passed {
		result.Detail = fmt.Sprintf("%s (directory writable)", path)
	}
	return result
}

func summarizeServerError(err error) string {
	switch {
	case errors.Is(err, services.ErrTransport):
		return "unreachable: check server.base_url and that the server runs with --api"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, services.ErrServer):
		if status := a1111.StatusCode(err); status != 0 {
			return fmt.Sprintf("server answered %d", status)
		}
		return "server error"
	default:
		return err.Error()
	}
}
