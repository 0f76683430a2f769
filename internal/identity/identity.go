// Package identity resolves the acting user of a request and manages the member files
// that seed the user table.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hesham156/sys/pkg/models"
)

// Member is one <home>/members/<uid>.yaml file.
type Member struct {
	UID         string      `yaml:"uid"`
	Role        models.Role `yaml:"role"`
	DisplayName string      `yaml:"display_name"`
	Email       string      `yaml:"email"`
	// Active defaults to true when omitted.
	Active *bool  `yaml:"active,omitempty"`
	Source string `yaml:"source,omitempty"` // e.g. "git"
}

// User converts the member to the stored user record.
func (m Member) User() models.User {
	active := true
	if m.Active != nil {
		active = *m.Active
	}
	return models.User{UID: m.UID, Role: m.Role, DisplayName: m.DisplayName, Email: m.Email, Active: active}
}

// Validate checks uid and role.
func (m Member) Validate() error {
	if strings.TrimSpace(m.UID) == "" {
		return fmt.Errorf("%w: member uid required", models.ErrInvalid)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: member %s has unknown role %q", models.ErrInvalid, m.UID, m.Role)
	}
	return nil
}

// DetectFromGit runs `git config user.name` and `git config user.email` (in repoDir, or global if repoDir is empty)
// and returns a Member with DisplayName and Email filled. If either command fails, that field stays empty.
func DetectFromGit(repoDir string) Member {
	m := Member{Source: "git"}
	if name, err := gitConfig(repoDir, "user.name"); err == nil {
		m.DisplayName = name
	}
	if email, err := gitConfig(repoDir, "user.email"); err == nil {
		m.Email = email
	}
	return m
}

func gitConfig(repoDir, key string) (string, error) {
	cmd := exec.Command("git", "config", "--get", key)
	if repoDir != "" {
		cmd.Dir = repoDir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// UIDFromEmail suggests a uid from the local part of an email address.
func UIDFromEmail(email string) string {
	if idx := strings.Index(email, "@"); idx > 0 {
		return sanitize(email[:idx])
	}
	return ""
}

// MembersDir returns the path to the members directory: <home>/members/.
func MembersDir(home string) string {
	return filepath.Join(home, "members")
}

func sanitize(uid string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(uid), " ", "_"))
}

// MemberPath returns the path to a member file: <home>/members/<uid>.yaml.
// The uid is sanitized for the filesystem (spaces -> _, lowercase).
func MemberPath(home, uid string) string {
	safe := sanitize(uid)
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(MembersDir(home), safe+".yaml")
}

// LoadMember loads <home>/members/<uid>.yaml. A missing file returns (nil, nil).
func LoadMember(home, uid string) (*Member, error) {
	data, err := os.ReadFile(MemberPath(home, uid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Member
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMember writes m to <home>/members/<m.UID>.yaml.
func SaveMember(home string, m *Member) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(MembersDir(home), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(MemberPath(home, m.UID), data, 0o644)
}

// LoadMembers reads every member file, sorted by uid. A missing directory yields none.
func LoadMembers(home string) ([]Member, error) {
	entries, err := os.ReadDir(MembersDir(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Member
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(MembersDir(home), e.Name()))
		if err != nil {
			return nil, err
		}
		var m Member
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// UserStore is what the resolver and member sync need from the store.
type UserStore interface {
	GetUser(ctx context.Context, uid string) (*models.User, error)
	UpsertUser(ctx context.Context, u models.User) error
}

// SyncMembers upserts every member file into st and returns how many were written.
func SyncMembers(ctx context.Context, st UserStore, home string) (int, error) {
	members, err := LoadMembers(home)
	if err != nil {
		return 0, err
	}
	for i, m := range members {
		if err := st.UpsertUser(ctx, m.User()); err != nil {
			return i, fmt.Errorf("sync member %s: %w", m.UID, err)
		}
	}
	return len(members), nil
}

// HeaderUserID carries the acting uid on API requests.
const HeaderUserID = "X-User-ID"

// QueryUserID is accepted on GET /stream, where EventSource cannot set headers.
const QueryUserID = "as"

// Resolver turns a uid into an authenticated actor. The stored role is authoritative.
type Resolver struct {
	users UserStore
}

func NewResolver(users UserStore) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the active user uid. Empty, unknown and inactive uids wrap
// models.ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, uid string) (models.User, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return models.User{}, fmt.Errorf("%w: no user id", models.ErrUnauthenticated)
	}
	u, err := r.users.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.User{}, fmt.Errorf("%w: unknown user %s", models.ErrUnauthenticated, uid)
		}
		return models.User{}, err
	}
	if !u.Active {
		return models.User{}, fmt.Errorf("%w: user %s is inactive", models.ErrUnauthenticated, uid)
	}
	return *u, nil
}

// FromRequest resolves the X-User-ID header, falling back to the ?as= query parameter.
func (r *Resolver) FromRequest(req *http.Request) (models.User, error) {
	uid := req.Header.Get(HeaderUserID)
	if uid == "" {
		uid = req.URL.Query().Get(QueryUserID)
	}
	return r.Resolve(req.Context(), uid)
}

type actorKey struct{}

// WithActor stores the resolved actor in ctx.
func WithActor(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, actorKey{}, u)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(actorKey{}).(models.User)
	return u, ok
}
