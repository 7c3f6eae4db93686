package main

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/exception-context/capture"
)

// testClient 通过内存连接和 Broadcaster 通信的 DAP 客户端
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	seq    int
}

func newTestClient(t *testing.T, b *Broadcaster) *testClient {
	server, client := net.Pipe()
	go b.handleConnection(server)
	t.Cleanup(func() { _ = client.Close() })
	return &testClient{t: t, conn: client, reader: bufio.NewReader(client)}
}

func (c *testClient) request(command string, message dap.Message) {
	c.seq++
	switch m := message.(type) {
	case *dap.InitializeRequest:
		m.Request = *newRequest(c.seq, command)
	case *dap.ConfigurationDoneRequest:
		m.Request = *newRequest(c.seq, command)
	case *dap.ThreadsRequest:
		m.Request = *newRequest(c.seq, command)
	case *dap.PauseRequest:
		m.Request = *newRequest(c.seq, command)
	case *dap.DisconnectRequest:
		m.Request = *newRequest(c.seq, command)
	}
	require.Nil(c.t, dap.WriteProtocolMessage(c.conn, message))
}

func (c *testClient) read() dap.Message {
	require.Nil(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	message, err := dap.ReadProtocolMessage(c.reader)
	require.Nil(c.t, err)
	return message
}

func newRequest(seq int, command string) *dap.Request {
	return &dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
}

// configure 完成 initialize 和 configurationDone
func (c *testClient) configure() {
	c.request("initialize", &dap.InitializeRequest{})
	_, ok := c.read().(*dap.InitializedEvent)
	require.True(c.t, ok)
	response, ok := c.read().(*dap.InitializeResponse)
	require.True(c.t, ok)
	assert.True(c.t, response.Body.SupportsConfigurationDoneRequest)

	c.request("configurationDone", &dap.ConfigurationDoneRequest{})
	_, ok = c.read().(*dap.ConfigurationDoneResponse)
	require.True(c.t, ok)
}

func TestBroadcastContext(t *testing.T) {
	b := NewBroadcaster()
	client := newTestClient(t, b)
	client.configure()

	// 内存连接是同步的，发送需要在单独的协程中进行
	go b.Broadcast(&capture.CapturedContext{Text: "Sync:\n  file:///app/a.js:1:1\n"})
	event, ok := client.read().(*dap.OutputEvent)
	require.True(t, ok)
	assert.Equal(t, "stderr", event.Body.Category)
	assert.Equal(t, "Sync:\n  file:///app/a.js:1:1\n", event.Body.Output)

	go b.Terminated(3)
	exited, ok := client.read().(*dap.ExitedEvent)
	require.True(t, ok)
	assert.Equal(t, 3, exited.Body.ExitCode)
	_, ok = client.read().(*dap.TerminatedEvent)
	assert.True(t, ok)
}

func TestReplayHistory(t *testing.T) {
	b := NewBroadcaster()
	b.Broadcast(&capture.CapturedContext{Text: "first\n"})
	b.Broadcast(&capture.CapturedContext{Text: "second\n"})

	client := newTestClient(t, b)
	client.configure()
	for _, text := range []string{"first\n", "second\n"} {
		event, ok := client.read().(*dap.OutputEvent)
		require.True(t, ok)
		assert.Equal(t, text, event.Body.Output)
	}
}

func TestUnsupportedRequest(t *testing.T) {
	b := NewBroadcaster()
	client := newTestClient(t, b)

	client.request("threads", &dap.ThreadsRequest{})
	threads, ok := client.read().(*dap.ThreadsResponse)
	require.True(t, ok)
	assert.Equal(t, []dap.Thread{{Id: 1, Name: "main"}}, threads.Body.Threads)

	client.request("pause", &dap.PauseRequest{})
	response, ok := client.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.False(t, response.Success)
	assert.Equal(t, "pause is not yet supported", response.Message)

	client.request("disconnect", &dap.DisconnectRequest{})
	_, ok = client.read().(*dap.DisconnectResponse)
	assert.True(t, ok)
}

// 没有监听端口时也可以关闭
func TestCloseWithoutListen(t *testing.T) {
	b := NewBroadcaster()
	assert.Nil(t, b.Close())
}
