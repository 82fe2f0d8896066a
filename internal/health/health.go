// Package health provides the liveness and readiness handlers of the control
// server.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz runs every [Checker] and answers 503 if a required one fails.
//
// The body is a JSON object: "status" is "ok", "degraded" (only optional
// checks failed, still 200) or "fail", and "checks" maps each checker name to
// "ok" or the failure, prefixed "fail: " or "degraded: ".
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/domainscribe/pkg/audio"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Overall and per-check statuses.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// Checker is a named readiness probe.
type Checker struct {
	// Name keys the check in the response ("audio", "stt", "llm").
	Name string

	// Check returns nil when the dependency is usable. It must return
	// promptly once ctx is done.
	Check func(ctx context.Context) error

	// Optional marks a dependency the recorder works without, such as the
	// ffmpeg enhancement pass. Its failure degrades readiness instead of
	// failing it.
	Optional bool
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
}

// New returns a handler for checkers. Checkers without a Check func are
// dropped.
func New(checkers ...Checker) *Handler {
	h := &Handler{}
	for _, c := range checkers {
		if c.Check != nil {
			h.checkers = append(h.checkers, c)
		}
	}
	return h
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: statusOK})
}

// Readyz runs all checkers concurrently, each bounded by [checkTimeout] and
// the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			errs[i] = c.Check(ctx)
			slog.Debug("readiness check", "check", c.Name, "elapsed", time.Since(start), "err", errs[i])
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: statusOK, Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		switch {
		case errs[i] == nil:
			res.Checks[c.Name] = statusOK
		case c.Optional:
			res.Checks[c.Name] = statusDegraded + ": " + errs[i].Error()
			if res.Status == statusOK {
				res.Status = statusDegraded
			}
		default:
			res.Checks[c.Name] = statusFail + ": " + errs[i].Error()
			res.Status = statusFail
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, res)
}

// ── Checkers ─────────────────────────────────────────────────────────────────

// ErrNoInputDevice is reported by [DeviceChecker] when the backend lists no
// capture device.
var ErrNoInputDevice = errors.New("health: no input device")

// DeviceChecker passes when backend lists at least one input device.
func DeviceChecker(backend audio.Backend) Checker {
	return Checker{
		Name: "audio",
		Check: func(context.Context) error {
			devices, err := backend.Devices()
			if err != nil {
				return fmt.Errorf("health: list devices: %w", err)
			}
			if len(devices) == 0 {
				return ErrNoInputDevice
			}
			return nil
		},
	}
}

// FileChecker passes when path names a readable regular file, such as a
// whisper model.
func FileChecker(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return fmt.Errorf("health: %s is not a regular file", path)
			}
			return nil
		},
	}
}

// BinaryChecker passes when binary is found on PATH.
func BinaryChecker(name, binary string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			_, err := exec.LookPath(binary)
			return err
		},
	}
}

// HTTPChecker passes when a GET on url answers with a status below 500.
// A nil client uses [http.DefaultClient].
func HTTPChecker(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("health: %s returned %s", url, resp.Status)
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
