package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/flowbot/internal/domain"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect conversation sessions on a running server",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		server      string
		page, limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServer()
			}
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))

			var result domain.SessionPage
			if err := newAPIClient(server).do("GET", "/api/sessions?"+q.Encode(), nil, &result); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tBLOCK\tMESSAGES\tLAST ACTIVITY")
			for _, s := range result.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					s.SessionID, s.CurrentBlockID, len(s.Messages), s.LastActivity.Local().Format(time.DateTime))
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "\npage %d of %d, %d session(s)\n",
				result.CurrentPage, result.TotalPages, result.TotalSessions)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "sessions per page")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	var (
		server string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServer()
			}
			var raw json.RawMessage
			if err := newAPIClient(server).do("GET", "/api/sessions/"+url.PathEscape(args[0]), nil, &raw); err != nil {
				return err
			}
			if asJSON {
				return printDocument(cmd, raw, false)
			}

			var sess domain.Session
			if err := json.Unmarshal(raw, &sess); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session: %s\nStarted: %s\nBlock:   %s\n\n",
				sess.SessionID, sess.StartedAt.Local().Format(time.DateTime), sess.CurrentBlockID)
			for _, m := range sess.Messages {
				arrow := "<"
				if m.Direction == domain.DirectionIncoming {
					arrow = ">"
				}
				fmt.Fprintf(out, "%s %s [%s] %s\n", m.Timestamp.Local().Format(time.TimeOnly), arrow, m.BlockID, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}
