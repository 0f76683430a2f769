// Package daemon runs the printflow HTTP server as a singleton process per home directory
// and manages it from the CLI: pid and address files, background re-exec, stop and status.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/httpapi"
	"github.com/hesham156/sys/internal/otel"
)

var errNotRunning = errors.New("printflow is not running")

const (
	shutdownGrace = 15 * time.Second
	stopWait      = 15 * time.Second
	startWait     = 2 * time.Second
)

// StartForeground serves the API until ctx is cancelled or the listener fails.
func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.Home)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	port := firstNonZero(opts.Port, cfg.Server.Port, config.DefaultPort)
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	stopPprof := startPprof(opts.PprofAddr, log)
	defer stopPprof()

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use: %w", port, err)
	}

	backend, err := OpenBackend(ctx, opts.Home, cfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = backend.Close() }()

	files, err := writeRuntimeFiles(opts.Home, os.Getpid(), addr)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer files.remove()

	srvOpts := httpapi.ServerOptions{
		Addr:     addr,
		Dev:      opts.Dev || cfg.Server.Dev,
		APIKey:   cfg.Server.APIKey,
		Service:  backend.Service,
		Resolver: backend.Resolver,
		Log:      log,
	}
	if cfg.Otel.Enabled {
		shutdownMetrics := initMetrics(ctx, &srvOpts, backend, log)
		defer func() { _ = shutdownMetrics(context.Background()) }()
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		_ = ln.Close()
		return err
	}

	log.Info("daemon starting", "addr", addr, "home", opts.Home, "db", cfg.DB.Driver, "alerts", backend.Alerts.Names())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Server.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		// Streams never finish on their own; Shutdown's hook closes them.
		_ = app.Server.Shutdown(shutdownCtx)
		log.Info("daemon stopped")
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initMetrics swaps the plain /metrics text for the otel Prometheus exporter. Failures
// leave the plain endpoint in place.
func initMetrics(ctx context.Context, srvOpts *httpapi.ServerOptions, backend *Backend, log *slog.Logger) func(context.Context) error {
	handler, shutdown, err := otel.InitMeterProvider(ctx, "printflow", attribute.String("printflow.db", backend.Driver))
	if err != nil {
		log.Warn("otel init failed, using plain metrics", "err", err)
		return func(context.Context) error { return nil }
	}
	srvOpts.MetricsHandler = handler
	srvOpts.UseOtelHTTP = true
	if err := otel.InitMetrics(ctx); err != nil {
		log.Warn("otel instruments failed", "err", err)
	}
	if err := otel.RegisterGauges(backend.Service.Gauges()); err != nil {
		log.Warn("otel gauges failed", "err", err)
	}
	return shutdown
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

type runtimeFiles struct{ home string }

func writeRuntimeFiles(home string, pid int, addr string) (runtimeFiles, error) {
	if err := os.MkdirAll(protectedDir(home), 0o755); err != nil {
		return runtimeFiles{}, err
	}
	if err := os.WriteFile(pidPath(home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return runtimeFiles{}, err
	}
	_ = os.WriteFile(addrPath(home), []byte(addr+"\n"), 0o644)
	return runtimeFiles{home: home}, nil
}

func (f runtimeFiles) remove() {
	_ = os.Remove(pidPath(f.home))
	_ = os.Remove(addrPath(f.home))
}

// StartBackground re-executes the binary as a detached `daemon` process and returns its pid.
func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("printflow already running (pid %d)", st.PID)
	}

	// The child inherits the log file; it stays open for the child's lifetime.
	logOut, err := os.OpenFile(LogPath(opts.Home), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(exe, daemonArgs(opts)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = logOut
	detach(cmd)
	if err := cmd.Start(); err != nil {
		_ = logOut.Close()
		return 0, err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	deadline := time.After(startWait)
	for {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		select {
		case err := <-exited:
			return 0, fmt.Errorf("daemon exited during startup (%v); see %s", err, LogPath(opts.Home))
		case <-deadline:
			// Still starting; report the child pid.
			return cmd.Process.Pid, nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// daemonArgs are the arguments of the hidden `daemon` command; the child reloads config.yaml.
func daemonArgs(opts StartOptions) []string {
	args := []string{"daemon", "--home", opts.Home}
	if opts.Port != 0 {
		args = append(args, "--port", strconv.Itoa(opts.Port))
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	return args
}

// Stop sends SIGTERM to the running daemon and waits for it to exit, killing it after
// a grace period. It reports false when nothing was running.
func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(stopWait)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			_ = proc.Kill()
			return true, nil
		case <-ticker.C:
			if st, _ := Status(ctx, home); !st.Running {
				return true, nil
			}
		}
	}
}

func readPID(home string) int {
	b, err := os.ReadFile(pidPath(home))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// Status reads the pid and addr files and checks the process is alive. A stale pid file
// is removed.
func Status(ctx context.Context, home string) (StatusInfo, error) {
	pid := readPID(home)
	if pid == 0 {
		return StatusInfo{}, nil
	}
	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{}, nil
	}
	addr := "unknown"
	if b, err := os.ReadFile(addrPath(home)); err == nil {
		if a := strings.TrimSpace(string(b)); a != "" {
			addr = a
		}
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}
