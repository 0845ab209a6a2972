package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/state"
)

// shortSocketPath keeps the path under the ~104 byte limit for Unix sockets.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "pe")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "rpc.sock")
}

func startServer(t *testing.T) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()

	mem := filesystem.NewMemory()
	if err := mem.WriteFileByPath(context.Background(), "/a.txt", "hello"); err != nil {
		t.Fatal(err)
	}
	states := state.NewStatesList().
		WithTokens(state.TokenAll("secret")).
		WithState(state.New(1, nil).WithFilesystem("mem", mem))

	s := New(shortSocketPath(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, states) }()

	readyCtx, readyCancel := context.WithTimeout(context.Background(), time.Second)
	defer readyCancel()
	if err := s.WaitReady(readyCtx); err != nil {
		cancel()
		t.Fatalf("server not ready: %v", err)
	}
	t.Cleanup(cancel)
	return s, cancel, done
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", s.SocketPath())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, line string) map[string]json.RawMessage {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	resp, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("invalid response %q: %v", resp, err)
	}
	return out
}

func TestServer_ReadFile(t *testing.T) {
	s, _, _ := startServer(t)
	conn, r := dial(t, s)

	out := roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":7,"method":"read_file_by_path","params":["/a.txt","mem",1,"secret"]}`)

	if string(out["id"]) != "7" {
		t.Errorf("id = %s, want 7", out["id"])
	}
	var result struct {
		Ok filesystem.FileInfo
	}
	if err := json.Unmarshal(out["result"], &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.Ok.Content != "hello" {
		t.Errorf("content = %q, want hello", result.Ok.Content)
	}
}

func TestServer_NotificationHasNoResponse(t *testing.T) {
	s, _, _ := startServer(t)
	conn, r := dial(t, s)

	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","method":"get_ext_list_by_id","params":[1,"secret"]}` + "\n\n")); err != nil {
		t.Fatal(err)
	}
	// The next line read belongs to the following request.
	out := roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":"x","method":"get_ext_list_by_id","params":[1,"wrong"]}`)
	if string(out["id"]) != `"x"` {
		t.Errorf("id = %s, want \"x\"", out["id"])
	}
	if string(out["result"]) != `{"Err":"BadToken"}` {
		t.Errorf("result = %s, want BadToken error", out["result"])
	}
}

func TestServer_ParseError(t *testing.T) {
	s, _, _ := startServer(t)
	conn, r := dial(t, s)

	out := roundTrip(t, conn, r, `{not json`)
	var rpcErr struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(out["error"], &rpcErr); err != nil {
		t.Fatalf("error field: %v", err)
	}
	if rpcErr.Code != -32700 {
		t.Errorf("code = %d, want -32700", rpcErr.Code)
	}
}

func TestServer_ShutdownClosesConnectionsAndRemovesSocket(t *testing.T) {
	s, cancel, done := startServer(t)
	conn, r := dial(t, s)
	roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":1,"method":"get_ext_list_by_id","params":[1,"secret"]}`)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := r.ReadByte(); err == nil {
		t.Error("connection should be closed after shutdown")
	}
	if _, err := os.Stat(s.SocketPath()); !os.IsNotExist(err) {
		t.Errorf("socket file should be removed, stat err = %v", err)
	}
}

func TestServer_ListenError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "dir", "rpc.sock"))
	if err := s.Run(context.Background(), state.NewStatesList()); err == nil {
		t.Error("Run should fail when the socket directory does not exist")
	}
}
