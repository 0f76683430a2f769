package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/identity"
	"github.com/hesham156/sys/pkg/models"
)

func TestStartForeground_emptyHome(t *testing.T) {
	ctx := context.Background()
	err := StartForeground(ctx, StartOptions{Home: ""})
	if err == nil {
		t.Fatal("StartForeground empty home: expected error")
	}
}

func sqliteConfig() *config.Config {
	return &config.Config{DB: config.DBConfig{Driver: "sqlite"}}
}

func TestOpenBackend_syncsMembers(t *testing.T) {
	home := t.TempDir()
	if err := identity.SaveMember(home, &identity.Member{UID: "max", Role: models.RoleManagement}); err != nil {
		t.Fatalf("SaveMember: %v", err)
	}
	b, err := OpenBackend(context.Background(), home, sqliteConfig(), nil)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer func() { _ = b.Close() }()

	u, err := b.Resolver.Resolve(context.Background(), "max")
	if err != nil || u.Role != models.RoleManagement {
		t.Fatalf("Resolve: %+v %v", u, err)
	}
	if names := b.Alerts.Names(); len(names) != 0 {
		t.Fatalf("no alert channels expected, got %v", names)
	}
}

func TestOpenBackend_slackAndBadNATS(t *testing.T) {
	cfg := sqliteConfig()
	cfg.Slack.WebhookURL = "http://127.0.0.1:1/hook"
	cfg.Webhook.URL = "http://127.0.0.1:1/alerts"
	// Unreachable NATS disables events rather than failing startup.
	cfg.NATS.URL = "nats://127.0.0.1:1"
	b, err := OpenBackend(context.Background(), t.TempDir(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	defer func() { _ = b.Close() }()
	if names := b.Alerts.Names(); fmt.Sprint(names) != "[slack webhook]" {
		t.Fatalf("alerts: %v", names)
	}
}

func TestOpenStore_unknownDriver(t *testing.T) {
	if _, err := OpenStore(t.TempDir(), config.DBConfig{Driver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenStore_explicitSQLitePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.sqlite")
	st, err := OpenStore("", config.DBConfig{Driver: "sqlite", URL: path})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	_ = st.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db file at %s: %v", path, err)
	}
}

func TestDaemonArgs(t *testing.T) {
	got := daemonArgs(StartOptions{Home: "/h", Port: 4000, Dev: true, PprofAddr: "127.0.0.1:6060"})
	want := []string{"daemon", "--home", "/h", "--port", "4000", "--dev", "--pprof", "127.0.0.1:6060"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("daemonArgs = %v, want %v", got, want)
	}
	if got := daemonArgs(StartOptions{Home: "/h"}); len(got) != 3 {
		t.Fatalf("minimal args: %v", got)
	}
}

func TestStatus_notRunning(t *testing.T) {
	st, err := Status(context.Background(), t.TempDir())
	if err != nil || st.Running {
		t.Fatalf("Status on empty home: %+v %v", st, err)
	}
	stopped, err := Stop(context.Background(), t.TempDir())
	if err != nil || stopped {
		t.Fatalf("Stop on empty home: %v %v", stopped, err)
	}
}

func TestAcquireLock_exclusive(t *testing.T) {
	path := lockPath(t.TempDir())
	l, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	if _, err := acquireLock(path); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second acquire: %v", err)
	}
	l.release()
	l2, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l2.release()
}

func TestStartPprof(t *testing.T) {
	addr := "127.0.0.1:" + strconv.Itoa(freePort(t))
	stop := startPprof(addr, slog.Default())
	defer stop()
	var code int
	for i := 0; i < 100; i++ {
		resp, err := http.Get("http://" + addr + "/debug/pprof/")
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if code != http.StatusOK {
		t.Fatalf("pprof index: %d", code)
	}
	startPprof("", slog.Default())()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestStartForeground_servesAndStops(t *testing.T) {
	home := t.TempDir()
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartForeground(ctx, StartOptions{Home: home, Port: port, Config: sqliteConfig()})
	}()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	var ok bool
	for i := 0; i < 100; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			ok = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !ok {
		cancel()
		t.Fatal("daemon never answered /health")
	}
	st, _ := Status(context.Background(), home)
	if !st.Running || st.PID != os.Getpid() {
		t.Fatalf("Status while serving: %+v", st)
	}

	// A second instance cannot take the lock.
	if err := StartForeground(context.Background(), StartOptions{Home: home, Port: freePort(t), Config: sqliteConfig()}); err == nil {
		t.Fatal("second daemon should fail to start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(pidPath(home)); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed, stat err=%v", err)
	}
}
