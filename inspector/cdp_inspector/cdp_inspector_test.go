package cdp_inspector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/fansqz/exception-context/constants"
	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/protocol"
)

type fakeRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeHandler 返回 nil 表示不响应
type fakeHandler func(request *fakeRequest, conn *websocket.Conn) interface{}

// testHelper 启动一个假的调试端口并连接
type testHelper struct {
	t        *testing.T
	server   *httptest.Server
	client   *CDPInspector
	eventCh  chan interface{}
	received chan *fakeRequest
}

func newTestHelper(t *testing.T, handler fakeHandler) *testHelper {
	h := &testHelper{
		t:        t,
		eventCh:  make(chan interface{}, 10),
		received: make(chan *fakeRequest, 10),
	}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			request := &fakeRequest{}
			if err = conn.ReadJSON(request); err != nil {
				return
			}
			h.received <- request
			if response := handler(request, conn); response != nil {
				if err = conn.WriteJSON(response); err != nil {
					return
				}
			}
		}
	}))
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	client, err := Dial(context.Background(), url)
	assert.Nil(t, err)
	h.client = client
	h.client.SetCallback(func(event interface{}) {
		h.eventCh <- event
	})
	return h
}

func (h *testHelper) cleanup() {
	h.client.Close()
	h.server.Close()
}

// waitForEvent 等待一个事件
func (h *testHelper) waitForEvent() interface{} {
	select {
	case event := <-h.eventCh:
		return event
	case <-time.After(5 * time.Second):
		h.t.Fatal("wait for event timeout")
		return nil
	}
}

func result(id int64, body interface{}) map[string]interface{} {
	return map[string]interface{}{"id": id, "result": body}
}

func TestGetScriptSource(t *testing.T) {
	helper := newTestHelper(t, func(request *fakeRequest, conn *websocket.Conn) interface{} {
		assert.Equal(t, protocol.DebuggerGetScriptSource, request.Method)
		assert.JSONEq(t, `{"scriptId":"42"}`, string(request.Params))
		return result(request.ID, map[string]string{"scriptSource": "throw new Error('x')"})
	})
	defer helper.cleanup()

	source, err := helper.client.GetScriptSource(context.Background(), "42")
	assert.Nil(t, err)
	assert.Equal(t, "throw new Error('x')", source)
}

func TestErrorResponse(t *testing.T) {
	helper := newTestHelper(t, func(request *fakeRequest, conn *websocket.Conn) interface{} {
		return map[string]interface{}{
			"id":    request.ID,
			"error": map[string]interface{}{"code": -32000, "message": "Could not find object with given id"},
		}
	})
	defer helper.cleanup()

	_, err := helper.client.GetProperties(context.Background(), "missing", true)
	var protocolErr *protocol.Error
	assert.True(t, errors.As(err, &protocolErr))
	assert.Equal(t, -32000, protocolErr.Code)
	assert.Equal(t, protocol.RuntimeGetProperties, protocolErr.Method)
}

func TestEvaluateOnCallFrameParams(t *testing.T) {
	helper := newTestHelper(t, func(request *fakeRequest, conn *websocket.Conn) interface{} {
		params := map[string]interface{}{}
		assert.Nil(t, json.Unmarshal(request.Params, &params))
		assert.Equal(t, "frame-0", params["callFrameId"])
		assert.Equal(t, "a + b", params["expression"])
		assert.Equal(t, true, params["throwOnSideEffect"])
		assert.Equal(t, float64(50), params["timeout"])
		return result(request.ID, map[string]interface{}{
			"result": map[string]interface{}{"type": "number", "value": 3, "description": "3"},
		})
	})
	defer helper.cleanup()

	res, err := helper.client.EvaluateOnCallFrame(context.Background(), &inspector.EvaluateParams{
		CallFrameID:       "frame-0",
		Expression:        "a + b",
		ThrowOnSideEffect: true,
		Timeout:           50 * time.Millisecond,
	})
	assert.Nil(t, err)
	assert.Nil(t, res.ExceptionDetails)
	assert.Equal(t, constants.TypeNumber, res.Result.Type)
	assert.Equal(t, "3", string(res.Result.Value))
}

func TestPausedEvent(t *testing.T) {
	helper := newTestHelper(t, func(request *fakeRequest, conn *websocket.Conn) interface{} {
		if request.Method == protocol.DebuggerEnable {
			_ = conn.WriteJSON(map[string]interface{}{
				"method": protocol.DebuggerPausedEvent,
				"params": map[string]interface{}{
					"reason": "exception",
					"data":   map[string]interface{}{"type": "object", "subtype": "error", "objectId": "1"},
					"callFrames": []interface{}{map[string]interface{}{
						"callFrameId": "frame-0",
						"location":    map[string]interface{}{"scriptId": "7", "lineNumber": 3, "columnNumber": 2},
						"url":         "file:///app/index.js",
					}},
				},
			})
		}
		return result(request.ID, map[string]interface{}{})
	})
	defer helper.cleanup()

	err := helper.client.EnableDebugger(context.Background())
	assert.Nil(t, err)
	event := helper.waitForEvent()
	paused, ok := event.(*inspector.PausedEvent)
	assert.True(t, ok)
	assert.Equal(t, constants.PausedException, paused.Reason)
	assert.Equal(t, "1", paused.Data.ObjectID)
	assert.Equal(t, 3, paused.CallFrames[0].Location.LineNumber)
}

func TestCloseFailsPendingCall(t *testing.T) {
	helper := newTestHelper(t, func(request *fakeRequest, conn *websocket.Conn) interface{} {
		// 不响应，模拟对端卡住
		return nil
	})
	defer helper.server.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- helper.client.Resume(context.Background())
	}()
	<-helper.received
	assert.Nil(t, helper.client.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, e.ErrSessionClosed))
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not released")
	}

	_, ok := helper.waitForEvent().(*inspector.DisconnectedEvent)
	assert.True(t, ok)

	err := helper.client.EnableRuntime(context.Background())
	assert.True(t, errors.Is(err, e.ErrSessionClosed))
}

func TestDiscoverWebSocketURL(t *testing.T) {
	url, ok := DiscoverWebSocketURL("Debugger listening on ws://127.0.0.1:9229/0f2c936f-b1cd\nFor help, see: https://nodejs.org/en/docs/inspector")
	assert.True(t, ok)
	assert.Equal(t, "ws://127.0.0.1:9229/0f2c936f-b1cd", url)

	_, ok = DiscoverWebSocketURL("Hello world")
	assert.False(t, ok)
}
