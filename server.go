package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/exception-context/capture"
	"github.com/fansqz/exception-context/utils/gosync"
)

// Broadcaster 把捕获到的上下文以 output 事件发送给所有连接的 DAP 客户端
type Broadcaster struct {
	listener net.Listener

	mutex    sync.Mutex
	sessions map[*DebugSession]struct{}
	// history 客户端完成配置后补发之前的上下文
	history    []*capture.CapturedContext
	terminated bool
	exitCode   int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{sessions: map[*DebugSession]struct{}{}}
}

// Listen 监听端口并在后台接受连接
func (b *Broadcaster) Listen(port string) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	b.listener = listener
	logrus.Infof("[Broadcaster] started listening at: %s", listener.Addr().String())
	gosync.Go(context.Background(), func(ctx context.Context) {
		b.acceptLoop()
	})
	return nil
}

func (b *Broadcaster) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.Warnf("[Broadcaster] connection failed: %v", err)
			continue
		}
		gosync.Go(context.Background(), func(ctx context.Context) {
			b.handleConnection(conn)
		})
	}
}

// handleConnection 处理一个客户端，直到客户端断开
func (b *Broadcaster) handleConnection(conn net.Conn) {
	session := &DebugSession{
		conn:        conn,
		rw:          bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		broadcaster: b,
	}
	b.mutex.Lock()
	b.sessions[session] = struct{}{}
	b.mutex.Unlock()
	defer func() {
		b.mutex.Lock()
		delete(b.sessions, session)
		b.mutex.Unlock()
		_ = conn.Close()
	}()

	for {
		err := session.handleRequest()
		var fieldErr *dap.DecodeProtocolMessageFieldError
		if errors.As(err, &fieldErr) {
			// 不认识的请求
			session.send(newErrorResponse(fieldErr.Seq, fieldErr.FieldValue, fmt.Sprintf("%s is not yet supported", fieldErr.FieldValue)))
			continue
		}
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				logrus.Infof("[Broadcaster] no more data to read from %s", conn.RemoteAddr())
			} else {
				logrus.Warnf("[Broadcaster] server error: %v", err)
			}
			return
		}
		if session.isClosed() {
			return
		}
	}
}

// Broadcast 发送给所有已完成配置的客户端
func (b *Broadcaster) Broadcast(captured *capture.CapturedContext) {
	b.mutex.Lock()
	b.history = append(b.history, captured)
	sessions := b.configuredSessions()
	b.mutex.Unlock()
	for _, session := range sessions {
		session.send(newOutputEvent(captured))
	}
}

// Terminated 目标进程退出，通知所有客户端
func (b *Broadcaster) Terminated(exitCode int) {
	b.mutex.Lock()
	b.terminated = true
	b.exitCode = exitCode
	sessions := b.configuredSessions()
	b.mutex.Unlock()
	for _, session := range sessions {
		session.sendTerminated(exitCode)
	}
}

func (b *Broadcaster) configuredSessions() []*DebugSession {
	var sessions []*DebugSession
	for session := range b.sessions {
		if session.isConfigured() {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Close 停止监听并断开所有客户端
func (b *Broadcaster) Close() error {
	var err error
	if b.listener != nil {
		err = b.listener.Close()
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for session := range b.sessions {
		_ = session.conn.Close()
	}
	return err
}

// DebugSession 一个 DAP 客户端的会话，只接收上下文，不支持调试操作
type DebugSession struct {
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw          *bufio.ReadWriter
	broadcaster *Broadcaster

	// sendMutex 请求处理和广播可能同时写入
	sendMutex  sync.Mutex
	stateMutex sync.Mutex
	configured bool
	closed     bool
}

func (d *DebugSession) handleRequest() error {
	request, err := dap.ReadProtocolMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	d.dispatchRequest(request)
	return nil
}

func (d *DebugSession) dispatchRequest(request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(request)
	case dap.RequestMessage:
		baseReq := request.GetRequest()
		d.send(newErrorResponse(baseReq.Seq, baseReq.Command, fmt.Sprintf("%s is not yet supported", baseReq.Command)))
	default:
		logrus.Warnf("[DebugSession] unable to process %#v", request)
	}
}

// send Message响应给客户端
func (d *DebugSession) send(message dap.Message) {
	d.sendMutex.Lock()
	defer d.sendMutex.Unlock()
	if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
		logrus.Warnf("[DebugSession] send fail, err = %v", err)
		return
	}
	_ = d.rw.Flush()
}

func (d *DebugSession) isConfigured() bool {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	return d.configured
}

func (d *DebugSession) isClosed() bool {
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	return d.closed
}

func (d *DebugSession) sendTerminated(exitCode int) {
	exited := &dap.ExitedEvent{Event: *newEvent("exited")}
	exited.Body.ExitCode = exitCode
	d.send(exited)
	d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{}
	response.Body.CompletionTriggerCharacters = []string{}
	response.Body.AdditionalModuleColumns = []dap.ColumnDescriptor{}
	response.Body.SupportedChecksumAlgorithms = []dap.ChecksumAlgorithm{}
	// 客户端收到 initialized 事件后以 configurationDone 结束配置
	d.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	d.send(response)
}

// onConfigurationDoneRequest 配置完成后补发已经捕获的上下文
func (d *DebugSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)

	b := d.broadcaster
	b.mutex.Lock()
	d.stateMutex.Lock()
	d.configured = true
	d.stateMutex.Unlock()
	history := append([]*capture.CapturedContext{}, b.history...)
	terminated, exitCode := b.terminated, b.exitCode
	b.mutex.Unlock()
	for _, captured := range history {
		d.send(newOutputEvent(captured))
	}
	if terminated {
		d.sendTerminated(exitCode)
	}
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{{Id: 1, Name: "main"}}
	d.send(response)
}

func (d *DebugSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	d.stateMutex.Lock()
	d.closed = true
	d.stateMutex.Unlock()
}

func newOutputEvent(captured *capture.CapturedContext) *dap.OutputEvent {
	event := &dap.OutputEvent{Event: *newEvent("output")}
	event.Body.Category = "stderr"
	event.Body.Output = captured.Text
	return event
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
