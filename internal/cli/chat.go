package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/version"
)

var (
	botColor    = color.New(color.FgCyan)
	promptColor = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	infoColor   = color.New(color.Faint)
)

func newChatCmd() *cobra.Command {
	var server, session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running server from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = defaultServer()
			}
			target, err := wsURL(server, session)
			if err != nil {
				return err
			}

			conn, resp, err := websocket.DefaultDialer.Dial(target, http.Header{"User-Agent": {version.UserAgent()}})
			if err != nil {
				return fmt.Errorf("connect %s: %w", target, err)
			}
			resp.Body.Close()
			defer conn.Close()

			return runChat(conn, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	cmd.Flags().StringVar(&session, "session", "", "resume an existing session id")
	return cmd
}

// runChat prints server frames as they arrive and sends each input line as
// a {"text": ...} frame. It returns when either side closes.
func runChat(conn *websocket.Conn, in io.Reader, out io.Writer) error {
	done := make(chan error, 1)
	go func() {
		announced := false
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = nil
				}
				done <- err
				return
			}
			var resp domain.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				errorColor.Fprintf(out, "! unreadable frame: %s\n", data)
				continue
			}
			if !announced && resp.SessionID != "" {
				infoColor.Fprintf(out, "session %s\n", resp.SessionID)
				announced = true
			}
			printResponse(out, resp)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := conn.WriteJSON(map[string]string{"text": line}); err != nil {
				return err
			}
		}
	}
}

func printResponse(out io.Writer, resp domain.Response) {
	switch resp.Type {
	case domain.ResponseMessage:
		botColor.Fprintf(out, "bot> %s\n", resp.Message)
	case domain.ResponsePrompt:
		promptColor.Fprintf(out, "bot> %s\n", resp.Message)
	case domain.ResponseError:
		if resp.Code != "" {
			errorColor.Fprintf(out, "error [%s]: %s\n", resp.Code, resp.Message)
			return
		}
		errorColor.Fprintf(out, "error: %s\n", resp.Message)
	default:
		fmt.Fprintf(out, "%s: %s\n", resp.Type, resp.Message)
	}
}
