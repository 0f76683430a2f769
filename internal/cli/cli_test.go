package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestNewRootCmd_hasSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	if root == nil {
		t.Fatal("NewRootCmd returned nil")
	}
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "start", "stop", "status", "doctor", "user", "task", "notifications", "apikey", "daemon"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestNewRootCmd_versionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
	if NewRootCmd("").Version != "dev" {
		t.Error("empty version should default to dev")
	}
}

func TestNewRootCmd_persistentFlags(t *testing.T) {
	root := NewRootCmd("")
	for _, name := range []string{"home", "as", "log-level"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected --%s persistent flag", name)
		}
	}
}

// run executes one command against home and returns stdout.
func run(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := run(t, home, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func TestApikeyGenerate(t *testing.T) {
	out := mustRun(t, t.TempDir(), "apikey", "generate")
	hexKey := regexp.MustCompile(`(?m)^  ([a-f0-9]{64})$`)
	if !hexKey.MatchString(out) {
		t.Errorf("output should contain a 64-char hex key on its own line; got:\n%s", out)
	}
	if !strings.Contains(out, "PRINTFLOW_SERVER_API_KEY") {
		t.Errorf("output should mention PRINTFLOW_SERVER_API_KEY")
	}
	if !strings.Contains(out, "X-API-Key") {
		t.Errorf("output should mention X-API-Key")
	}
}

func TestApikeyGenerate_save(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "apikey", "generate", "--save")
	b, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml: %v", err)
	}
	if !regexp.MustCompile(`api_key: [a-f0-9]{64}`).Match(b) {
		t.Errorf("config should carry the key:\n%s", b)
	}
}

func TestTaskCommands_requireActor(t *testing.T) {
	t.Setenv("PRINTFLOW_AS", "")
	if _, err := run(t, t.TempDir(), "task", "list"); err == nil || !strings.Contains(err.Error(), "--as") {
		t.Fatalf("task list without --as: %v", err)
	}
}

func TestUserAdd_rejectsUnknownRole(t *testing.T) {
	if _, err := run(t, t.TempDir(), "user", "add", "zed", "--role", "janitor"); err == nil {
		t.Fatal("expected unknown role error")
	}
}

var createdID = regexp.MustCompile(`Created task (\S+) `)

func TestTaskWorkflow_endToEnd(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "user", "add", "ivy", "--role", "intake", "--name", "Ivy")
	mustRun(t, home, "user", "add", "dan", "--role", "design")
	mustRun(t, home, "user", "add", "max", "--role", "management")

	users := mustRun(t, home, "--as", "max", "user", "list")
	for _, uid := range []string{"ivy", "dan", "max"} {
		if !strings.Contains(users, "- "+uid+" ") {
			t.Errorf("user list missing %s:\n%s", uid, users)
		}
	}

	out := mustRun(t, home, "--as", "ivy", "task", "create", "--title", "Flyer", "--client", "Acme", "--due", "2026-11-01")
	m := createdID.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("create output: %q", out)
	}
	id := m[1]

	if out := mustRun(t, home, "--as", "dan", "task", "list"); !strings.Contains(out, "No tasks") {
		t.Fatalf("design should not see a new task yet:\n%s", out)
	}
	if _, err := run(t, home, "--as", "dan", "task", "move", id, "review"); err == nil {
		t.Fatal("design cannot move a task that is still new")
	}
	mustRun(t, home, "--as", "ivy", "task", "move", id, "design", "--comment", "artwork attached")

	if out := mustRun(t, home, "--as", "dan", "task", "list"); !strings.Contains(out, id) || !strings.Contains(out, "[design]") {
		t.Fatalf("design list:\n%s", out)
	}
	// One notification for the new task, one for the move to design.
	if out := mustRun(t, home, "--as", "dan", "notifications", "count"); strings.TrimSpace(out) != "2" {
		t.Fatalf("unread count: %q", out)
	}
	mustRun(t, home, "--as", "dan", "task", "comment", id, "proof", "ready")
	mustRun(t, home, "--as", "dan", "task", "move", id, "review")

	show := mustRun(t, home, "--as", "max", "task", "show", id)
	if !strings.Contains(show, "status:   review") || !strings.Contains(show, "proof ready") {
		t.Fatalf("show:\n%s", show)
	}
	if !strings.Contains(show, "next:     approved, rejected, design") {
		t.Fatalf("management moves from review:\n%s", show)
	}
	if show := mustRun(t, home, "--as", "dan", "task", "show", id); !strings.Contains(show, "next:     none") {
		t.Fatalf("design has no move from review:\n%s", show)
	}
	hist := mustRun(t, home, "--as", "max", "task", "history", id)
	if n := strings.Count(hist, "\n"); n != 4 {
		t.Fatalf("history should have 4 entries, got %d:\n%s", n, hist)
	}
	if !strings.Contains(hist, "(new -> design): artwork attached") {
		t.Fatalf("history:\n%s", hist)
	}

	if out := mustRun(t, home, "--as", "dan", "notifications", "read-all"); !strings.Contains(out, "Marked 2 ") {
		t.Fatalf("read-all: %q", out)
	}
	if out := mustRun(t, home, "--as", "dan", "notifications", "count"); strings.TrimSpace(out) != "0" {
		t.Fatalf("unread after read-all: %q", out)
	}

	if _, err := run(t, home, "--as", "dan", "task", "delete", id); err == nil {
		t.Fatal("design cannot delete tasks")
	}
	mustRun(t, home, "--as", "max", "task", "delete", id)
	if _, err := run(t, home, "--as", "max", "task", "show", id); err == nil {
		t.Fatal("deleted task should be gone")
	}
}

func TestDoctor(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "user", "add", "max", "--role", "management")
	out := mustRun(t, home, "doctor")
	if !strings.Contains(out, "- members: 1") || !strings.HasSuffix(out, "ok\n") {
		t.Fatalf("doctor:\n%s", out)
	}
}

func TestStatusAndStop_notRunning(t *testing.T) {
	home := t.TempDir()
	if out := mustRun(t, home, "status"); !strings.Contains(out, "not running") {
		t.Fatalf("status: %q", out)
	}
	if out := mustRun(t, home, "stop"); !strings.Contains(out, "not running") {
		t.Fatalf("stop: %q", out)
	}
}
