package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestHomeContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	if _, ok := HomeFrom(WithHome(ctx, "")); ok {
		t.Fatal("an empty home does not count")
	}
	ctx = WithHome(ctx, "/srv/printflow")
	if got := MustHomeFrom(ctx); got != "/srv/printflow" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome(t *testing.T) {
	userHome, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name     string
		override string
		env      string
		want     string
	}{
		{"default", "", "", filepath.Join(userHome, ".printflow")},
		{"env", "", "/env/home", "/env/home"},
		{"override beats env", "/custom/home", "/env/home", "/custom/home"},
		{"tilde", "~/shop", "", filepath.Join(userHome, "shop")},
		{"relative", "data/pf", "", filepath.Join(cwd, "data", "pf")},
		{"cleaned", "/a/b/../c/", "", "/a/c"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv(EnvHome, c.env)
			got, err := ResolveHome(c.override)
			if err != nil {
				t.Fatalf("ResolveHome: %v", err)
			}
			if got != filepath.Clean(c.want) {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}
