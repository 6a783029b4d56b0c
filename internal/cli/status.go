package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/flowbot/internal/config"
	"github.com/soyeahso/flowbot/internal/hooks"
	"github.com/soyeahso/flowbot/internal/logging"
	"github.com/soyeahso/flowbot/internal/version"
)

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show flowbot configuration and server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "flowbot %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:     %s\n", paths.Config)
			fmt.Fprintf(out, "Data:       %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:     error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:    port=%d bind=%s tls=%v\n", cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.TLS.Enabled)

			switch cfg.Store.Driver {
			case "postgres":
				fmt.Fprintln(out, "Store:      postgres")
			case "memory":
				fmt.Fprintln(out, "Store:      memory")
			default:
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = paths.SQLitePath()
				}
				fmt.Fprintf(out, "Store:      sqlite path=%s\n", dbPath)
			}

			_, names := buildClassifier(cfg.Classifier, logging.Nop())
			fmt.Fprintf(out, "Classifier: %s (model=%s timeout=%dms)\n",
				strings.Join(names, " -> "), cfg.Classifier.Model, cfg.Classifier.TimeoutMs)

			hm := hooks.NewManager(logging.Nop())
			if n := hm.Register(cfg.Hooks); n > 0 {
				fmt.Fprintf(out, "Hooks:      %d on %s\n", n, strings.Join(hm.Events(), ", "))
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if server == "" {
				server = defaultServer()
			}
			var health struct {
				Status      string `json:"status"`
				Version     string `json:"version"`
				Connections int    `json:"connections"`
			}
			fmt.Fprintln(out)
			if err := newAPIClient(server).do("GET", "/health", nil, &health); err != nil {
				fmt.Fprintf(out, "Server:     %s unreachable (%v)\n", server, err)
				return nil
			}
			fmt.Fprintf(out, "Server:     %s %s version=%s connections=%d\n",
				server, health.Status, health.Version, health.Connections)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	return cmd
}
