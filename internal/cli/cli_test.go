package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/flowbot/internal/config"
	"github.com/soyeahso/flowbot/internal/flow"
	"github.com/soyeahso/flowbot/internal/gateway"
	"github.com/soyeahso/flowbot/internal/intent"
	"github.com/soyeahso/flowbot/internal/logging"
)

const yamlFlow = `
blocks:
  - id: welcome
    type: message
    message: Hi there!
    next: wait
  - id: wait
    type: wait
    next: detect
  - id: detect
    type: detect_intent
    intents:
      - intent: greeting
        keywords: [hello, hey]
        next: greet
    fallback: unknown
  - id: greet
    type: message
    message: Hello to you too.
  - id: unknown
    type: message
    message: Come again?
initialBlock: welcome
`

// run executes the root command with an isolated home directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FLOWBOT_HOME", t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func testServer(t *testing.T) (*httptest.Server, *flow.MemoryConfigStore) {
	t.Helper()
	flows := flow.NewMemoryConfigStore()
	sessions := flow.NewMemorySessionStore()
	guard := intent.NewGuard(logging.Nop(), time.Second, intent.KeywordProvider{})
	srv := gateway.New(config.GatewayConfig{}, logging.Nop(),
		gateway.WithStores(flows, sessions),
		gateway.WithEngine(flow.NewEngine(sessions, guard, logging.Nop())))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, flows
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flowbot "))
}

func TestFlowValidate(t *testing.T) {
	out, err := run(t, "flow", "validate", writeFile(t, "flow.yaml", yamlFlow))
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	bad := writeFile(t, "bad.json", `{"blocks":[{"id":"a","type":"wait"}],"initialBlock":"a"}`)
	out, err = run(t, "flow", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "Block a of type wait must have a next property")
}

func TestReadFlowFileConvertsYAML(t *testing.T) {
	doc, err := readFlowFile(writeFile(t, "flow.yml", yamlFlow))
	require.NoError(t, err)
	f, err := flow.Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "welcome", f.InitialBlock)
	assert.Equal(t, 5, f.Len())
}

func TestFlowPushAndGet(t *testing.T) {
	ts, flows := testServer(t)

	out, err := run(t, "flow", "push", "--server", ts.URL, writeFile(t, "flow.yaml", yamlFlow))
	require.NoError(t, err)
	assert.Contains(t, out, "Chatbot flow configuration saved successfully")

	active, err := flows.ActiveFlow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "welcome", active.InitialBlock)

	out, err = run(t, "flow", "get", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"initialBlock": "welcome"`)

	out, err = run(t, "flow", "get", "--server", ts.URL, "--yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "initialBlock: welcome")
}

func TestFlowGetWithoutFlow(t *testing.T) {
	ts, _ := testServer(t)

	_, err := run(t, "flow", "get", "--server", ts.URL)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "No configuration found", apiErr.Message)
}

func TestChatSession(t *testing.T) {
	ts, flows := testServer(t)
	doc, err := readFlowFile(writeFile(t, "flow.yaml", yamlFlow))
	require.NoError(t, err)
	f, err := flow.Parse(doc)
	require.NoError(t, err)
	_, err = flows.SaveFlow(context.Background(), f)
	require.NoError(t, err)

	target, err := wsURL(ts.URL, "")
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	// each line waits for its answer, so a pipe feeds them one at a time
	pr, pw := io.Pipe()
	var out safeBuffer
	errc := make(chan error, 1)
	go func() { errc <- runChat(conn, pr, &out) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Hi there!") }, 2*time.Second, 10*time.Millisecond)
	pw.Write([]byte("ok\n"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Please respond...") }, 2*time.Second, 10*time.Millisecond)
	pw.Write([]byte("hey bot\n"))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Hello to you too.") }, 2*time.Second, 10*time.Millisecond)
	pw.Close()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat did not exit after input closed")
	}
	assert.Contains(t, out.String(), "session ")
}

func TestConfigSetGetUnset(t *testing.T) {
	t.Setenv("FLOWBOT_HOME", t.TempDir())
	runCmd := func(args ...string) string {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	runCmd("config", "set", "gateway.port", "4000")
	assert.Equal(t, "4000\n", runCmd("config", "get", "gateway.port"))

	cfg, err := config.Load(paths.Config)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Gateway.Port)

	runCmd("config", "unset", "gateway.port")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "silent", "config", "get", "gateway.port"})
	assert.Error(t, cmd.Execute())
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("TRUE"))
	assert.Equal(t, false, parseValue("false"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "12abc", parseValue("12abc"))
	assert.Equal(t, "loopback", parseValue("loopback"))
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("http://127.0.0.1:3000/", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3000/ws", u)

	u, err = wsURL("https://bot.example.com", "abc 1")
	require.NoError(t, err)
	assert.Equal(t, "wss://bot.example.com/ws?session=abc+1", u)
}

func TestBuildClassifier(t *testing.T) {
	log := logging.Nop()

	_, names := buildClassifier(config.ClassifierConfig{Provider: "openai", APIKey: "sk-test", KeywordFailover: true, TimeoutMs: 100}, log)
	assert.Equal(t, []string{"openai", "keyword"}, names)

	_, names = buildClassifier(config.ClassifierConfig{Provider: "openai", APIKey: "sk-test"}, log)
	assert.Equal(t, []string{"openai"}, names)

	_, names = buildClassifier(config.ClassifierConfig{Provider: "openai"}, log)
	assert.Equal(t, []string{"keyword"}, names)

	_, names = buildClassifier(config.ClassifierConfig{Provider: "keyword", APIKey: "sk-test", KeywordFailover: true}, log)
	assert.Equal(t, []string{"keyword"}, names)
}

func TestOpenStores(t *testing.T) {
	log := logging.Nop()

	flows, sessions, closeFn, err := openStores(config.StoreConfig{Driver: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &flow.MemoryConfigStore{}, flows)
	assert.IsType(t, &flow.MemorySessionStore{}, sessions)
	closeFn()

	flows, _, closeFn, err = openStores(config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "flowbot.db")}, log)
	require.NoError(t, err)
	defer closeFn()
	_, err = flows.ActiveFlow(context.Background())
	assert.Error(t, err)

	_, _, _, err = openStores(config.StoreConfig{Driver: "postgres"}, log)
	assert.Error(t, err)
}

// safeBuffer is a bytes.Buffer guarded for concurrent writer and reader.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
