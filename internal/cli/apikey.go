package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
)

func newApikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Generate an API key for protecting the server when exposed over a network",
	}
	cmd.AddCommand(newApikeyGenerateCmd())
	return cmd
}

func newApikeyGenerateCmd() *cobra.Command {
	var envFile string
	var save bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random API key and print usage instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key := hex.EncodeToString(b)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Generated API key (save it somewhere safe):")
			_, _ = fmt.Fprintln(out)
			_, _ = fmt.Fprintln(out, "  "+key)
			_, _ = fmt.Fprintln(out)

			switch {
			case save:
				home := config.MustHomeFrom(cmd.Context())
				cfg, err := config.Load(home)
				if err != nil {
					return err
				}
				cfg.Server.APIKey = key
				if err := config.Save(home, cfg); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Stored server.api_key in %s\n", config.Path(home))
			case envFile != "":
				if err := appendEnv(envFile, "PRINTFLOW_SERVER_API_KEY="+key+"\n"); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Appended PRINTFLOW_SERVER_API_KEY to %s\n", envFile)
				_, _ = fmt.Fprintln(out, "Start the server with: printflow serve --env-file "+envFile)
			default:
				_, _ = fmt.Fprintln(out, "Use it:")
				_, _ = fmt.Fprintln(out, "  1. On the server: export PRINTFLOW_SERVER_API_KEY="+key)
				_, _ = fmt.Fprintln(out, "     Or rerun with --save to store it in config.yaml")
			}
			_, _ = fmt.Fprintln(out, "  Clients send header X-API-Key: <key> or query ?api_key=<key>")
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env", "", "Append PRINTFLOW_SERVER_API_KEY to this file (e.g. .env)")
	cmd.Flags().BoolVar(&save, "save", false, "Store the key as server.api_key in config.yaml")
	return cmd
}

func appendEnv(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
