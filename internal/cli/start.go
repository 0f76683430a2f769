package cli

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/daemon"
)

type serverFlags struct {
	port      int
	dev       bool
	pprofAddr string
	envFile   string
}

func (f *serverFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.port, "port", 0, "Port for the HTTP API (default from config.yaml, else 3548)")
	cmd.Flags().BoolVar(&f.dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&f.pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "Load env vars from file (KEY=VALUE per line) before starting")
}

func (f *serverFlags) options(cmd *cobra.Command) (daemon.StartOptions, string, error) {
	if f.envFile != "" {
		if err := loadEnvFile(f.envFile); err != nil {
			return daemon.StartOptions{}, "", err
		}
	}
	home := config.MustHomeFrom(cmd.Context())
	port := f.port
	if port == 0 {
		cfg, err := config.Load(home)
		if err != nil {
			return daemon.StartOptions{}, "", err
		}
		port = cfg.Server.Port
	}
	api := (&url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", port)}).String()
	return daemon.StartOptions{Home: home, Port: f.port, Dev: f.dev, PprofAddr: f.pprofAddr}, api, nil
}

func newServeCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the printflow HTTP API in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, api, err := flags.options(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving printflow on %s\n", api)
			return daemon.StartForeground(cmd.Context(), opts)
		},
	}
	flags.bind(cmd)
	return cmd
}

func newStartCmd() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start printflow as a background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, api, err := flags.options(cmd)
			if err != nil {
				return err
			}
			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "printflow started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: %s\n", api)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Log: %s\n", daemon.LogPath(opts.Home))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if key != "" {
			_ = os.Setenv(key, value)
		}
	}
	return sc.Err()
}
