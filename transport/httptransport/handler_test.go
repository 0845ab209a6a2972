package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/state"
	"github.com/zhubert/plural-editor/transport"
)

var _ transport.Handler = (*Handler)(nil)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T) (*Handler, *httptest.Server, chan messaging.Message) {
	t.Helper()

	mem := filesystem.NewMemory()
	require.NoError(t, mem.WriteFileByPath(context.Background(), "/a.txt", "hi"))
	states := state.NewStatesList().
		WithTokens(state.TokenAll("test")).
		WithState(state.New(1, nil).WithFilesystem("mem", mem)).
		WithState(state.New(2, nil))

	sender := make(chan messaging.Message, 8)
	h := New("")
	srv := httptest.NewServer(h.Router(states, sender))
	t.Cleanup(srv.Close)
	return h, srv, sender
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func writeMessage(t *testing.T, ws *websocket.Conn, msg messaging.Message) {
	t.Helper()
	data, err := messaging.Encode(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

func readMessage(t *testing.T, ws *websocket.Conn) messaging.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	msg, err := messaging.Decode(data)
	require.NoError(t, err)
	return msg
}

func receive(t *testing.T, ch <-chan messaging.Message) messaging.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message reached the core")
		return nil
	}
}

func TestHealth(t *testing.T) {
	_, srv, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["states"])
}

func TestRPC(t *testing.T) {
	_, srv, _ := setupServer(t)

	post := func(body string) *http.Response {
		resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(`{"jsonrpc":"2.0","id":1,"method":"read_file_by_path","params":["/a.txt","mem",1,"test"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.JSONEq(t, `{"Ok":{"content":"hi","format":{"Text":"UTF-8"}}}`, string(out.Result))

	resp = post(`{"jsonrpc":"2.0","method":"get_ext_list_by_id","params":[1,"test"]}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWebsocket_InboundReachesCore(t *testing.T) {
	h, srv, sender := setupServer(t)
	ws := dial(t, srv)

	writeMessage(t, ws, messaging.ListenToState{StateID: 1, Trigger: "client"})
	assert.Equal(t, messaging.ListenToState{StateID: 1, Trigger: "client"}, receive(t, sender))
	assert.Equal(t, 1, h.ConnCount())

	// Garbage is skipped without dropping the connection.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"msg_type":"Nope"}`)))
	writeMessage(t, ws, messaging.ShowPopup{StateID: 1, PopupID: "p"})
	assert.Equal(t, messaging.ShowPopup{StateID: 1, PopupID: "p"}, receive(t, sender))
}

func TestWebsocket_SendTargetsSubscribers(t *testing.T) {
	h, srv, sender := setupServer(t)
	one := dial(t, srv)
	two := dial(t, srv)

	writeMessage(t, one, messaging.ListenToState{StateID: 1})
	receive(t, sender)
	writeMessage(t, two, messaging.ListenToState{StateID: 2})
	receive(t, sender)

	ctx := context.Background()
	require.NoError(t, h.Send(ctx, messaging.ShowPopup{StateID: 1, PopupID: "for-one"}))
	require.NoError(t, h.Send(ctx, messaging.StateUpdated{StateData: state.StateData{ID: 2}}))

	assert.Equal(t, messaging.ShowPopup{StateID: 1, PopupID: "for-one"}, readMessage(t, one))
	// The popup for state 1 never reached the second connection.
	assert.Equal(t, messaging.StateUpdated{StateData: state.StateData{ID: 2}}, readMessage(t, two))
}

func TestWebsocket_DisconnectUnregisters(t *testing.T) {
	h, srv, sender := setupServer(t)
	ws := dial(t, srv)
	writeMessage(t, ws, messaging.ListenToState{StateID: 1})
	receive(t, sender)

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return h.ConnCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	h := New("127.0.0.1:0", WithShutdownTimeout(time.Second))
	states := state.NewStatesList()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, states, make(chan messaging.Message, 1)) }()

	require.Eventually(t, func() bool { return h.Addr() != nil }, time.Second, 5*time.Millisecond)

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + h.Addr().String() + "/health")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	h := New("256.0.0.1:bad")
	err := h.Run(context.Background(), state.NewStatesList(), nil)
	assert.Error(t, err)
}
