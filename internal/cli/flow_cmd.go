package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/flowbot/internal/flow"
)

func newFlowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Validate, upload and inspect chatbot flows",
	}

	cmd.AddCommand(newFlowValidateCmd())
	cmd.AddCommand(newFlowPushCmd())
	cmd.AddCommand(newFlowGetCmd())
	return cmd
}

// readFlowFile loads a flow document from JSON or YAML and returns it as JSON.
func readFlowFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return json.Marshal(doc)
	default:
		return data, nil
	}
}

func newFlowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a flow file without uploading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readFlowFile(args[0])
			if err != nil {
				return err
			}
			res := flow.ValidateJSON(doc)
			out := cmd.OutOrStdout()
			if !res.OK {
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  - %s\n", e)
				}
				return fmt.Errorf("%s: %d validation error(s)", args[0], len(res.Errors))
			}
			fmt.Fprintf(out, "%s: valid\n", args[0])
			return nil
		},
	}
}

func newFlowPushCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Upload a flow to a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readFlowFile(args[0])
			if err != nil {
				return err
			}
			if res := flow.ValidateJSON(doc); !res.OK {
				return fmt.Errorf("refusing to upload invalid flow: %s", strings.Join(res.Errors, "; "))
			}

			if server == "" {
				server = defaultServer()
			}
			var created struct {
				Message string `json:"message"`
				ID      string `json:"id"`
			}
			if err := newAPIClient(server).do("POST", "/api/config", doc, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %s)\n", created.Message, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	return cmd
}

func newFlowGetCmd() *cobra.Command {
	var (
		server string
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the active flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServer()
			}
			var raw json.RawMessage
			if err := newAPIClient(server).do("GET", "/api/config", nil, &raw); err != nil {
				return err
			}
			return printDocument(cmd, raw, asYAML)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML")
	return cmd
}

func printDocument(cmd *cobra.Command, raw json.RawMessage, asYAML bool) error {
	out := cmd.OutOrStdout()
	if asYAML {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		data, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
