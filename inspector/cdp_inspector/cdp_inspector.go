package cdp_inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/inspector"
	"github.com/fansqz/exception-context/protocol"
	"github.com/fansqz/exception-context/utils"
	"github.com/fansqz/exception-context/utils/gosync"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// OptionTimeout 请求没有设置 deadline 时使用的超时时间
	OptionTimeout  = time.Second * 10
	writeWait      = time.Second * 5
	eventQueueSize = 256
)

// CDPInspector
// 通过 websocket 连接运行时的调试端口，实现 inspector.Inspector
// 一个连接上复用所有请求和事件：
// 1. readLoop 读取消息，响应按 id 交给等待的请求，事件放入队列
// 2. dispatchLoop 按顺序把事件交给回调，回调慢不会阻塞响应的读取
type CDPInspector struct {
	sessionID string
	conn      *websocket.Conn
	log       *logrus.Entry

	// 写操作需要串行
	writeMutex sync.Mutex

	nextID  int64
	mutex   sync.Mutex
	pending map[int64]chan *protocol.Response

	callbackMutex sync.RWMutex
	callback      inspector.NotificationCallback

	events    chan interface{}
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial 连接调试端口
func Dial(ctx context.Context, url string) (*CDPInspector, error) {
	logrus.Infof("[CDPInspector] Dial %s", url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial inspector %s: %w", url, err)
	}
	return newCDPInspector(conn), nil
}

func newCDPInspector(conn *websocket.Conn) *CDPInspector {
	sessionID := utils.GetUUID()
	c := &CDPInspector{
		sessionID: sessionID,
		conn:      conn,
		log:       logrus.WithField("session", sessionID),
		pending:   map[int64]chan *protocol.Response{},
		events:    make(chan interface{}, eventQueueSize),
		closed:    make(chan struct{}),
	}
	gosync.Go(context.Background(), c.readLoop)
	gosync.Go(context.Background(), c.dispatchLoop)
	return c
}

// SessionID 连接的唯一标识，用于日志
func (c *CDPInspector) SessionID() string {
	return c.sessionID
}

func (c *CDPInspector) SetCallback(callback inspector.NotificationCallback) {
	c.callbackMutex.Lock()
	defer c.callbackMutex.Unlock()
	c.callback = callback
}

func (c *CDPInspector) getCallback() inspector.NotificationCallback {
	c.callbackMutex.RLock()
	defer c.callbackMutex.RUnlock()
	return c.callback
}

// Close 主动断开连接，所有等待中的请求返回 ErrSessionClosed
func (c *CDPInspector) Close() error {
	logrus.Infof("[CDPInspector] Close")
	c.writeMutex.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMutex.Unlock()
	c.shutdown(nil)
	return c.conn.Close()
}

// Done 连接关闭后返回
func (c *CDPInspector) Done() <-chan struct{} {
	return c.closed
}

func (c *CDPInspector) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
}

func (c *CDPInspector) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// readLoop 循环读取连接上的消息
func (c *CDPInspector) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Warnf("[readLoop] connection lost, err = %v", err)
			}
			c.shutdown(err)
			return
		}
		msg := &protocol.Message{}
		if err = json.Unmarshal(data, msg); err != nil {
			c.log.Warnf("[readLoop] parse message fail, err = %v", err)
			continue
		}
		if msg.IsEvent() {
			c.pushEvent(msg.Event())
			continue
		}
		c.mutex.Lock()
		ch, ok := c.pending[msg.ID]
		c.mutex.Unlock()
		if !ok {
			c.log.Warnf("[readLoop] response %d has no pending request", msg.ID)
			continue
		}
		ch <- msg.Response()
	}
}

// pushEvent 把事件解析成 inspector 中定义的类型并放入队列，不关心的事件直接丢弃
func (c *CDPInspector) pushEvent(event *protocol.Event) {
	var typed interface{}
	switch event.Method {
	case protocol.DebuggerPausedEvent:
		typed = &inspector.PausedEvent{}
	case protocol.DebuggerScriptParsedEvent:
		typed = &inspector.ScriptParsedEvent{}
	case protocol.DebuggerResumedEvent:
		typed = &inspector.ResumedEvent{}
	default:
		return
	}
	if len(event.Params) != 0 {
		if err := json.Unmarshal(event.Params, typed); err != nil {
			c.log.Warnf("[pushEvent] parse %s fail, err = %v", event.Method, err)
			return
		}
	}
	select {
	case c.events <- typed:
	case <-c.closed:
	}
}

// dispatchLoop 按到达顺序把事件交给回调，连接关闭时发送 DisconnectedEvent
func (c *CDPInspector) dispatchLoop(ctx context.Context) {
	for {
		select {
		case event := <-c.events:
			c.notify(event)
		case <-c.closed:
			for {
				select {
				case event := <-c.events:
					c.notify(event)
				default:
					c.notify(&inspector.DisconnectedEvent{Err: c.closeErr})
					return
				}
			}
		}
	}
}

func (c *CDPInspector) notify(event interface{}) {
	if callback := c.getCallback(); callback != nil {
		callback(event)
	}
}

func (c *CDPInspector) write(request *protocol.Request) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(request)
}

// call 发送请求并等待响应，result 为空时忽略响应内容
func (c *CDPInspector) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := atomic.AddInt64(&c.nextID, 1)
	channel := make(chan *protocol.Response, 1)
	c.mutex.Lock()
	if c.isClosed() {
		c.mutex.Unlock()
		return fmt.Errorf("%s: %w", method, e.ErrSessionClosed)
	}
	c.pending[id] = channel
	c.mutex.Unlock()
	defer func() {
		c.mutex.Lock()
		delete(c.pending, id)
		c.mutex.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, OptionTimeout)
		defer cancel()
	}
	if err := c.write(&protocol.Request{ID: id, Method: method, Params: params}); err != nil {
		if c.isClosed() {
			return fmt.Errorf("%s: %w", method, e.ErrSessionClosed)
		}
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case response := <-channel:
		if response.Error != nil {
			response.Error.Method = method
			return response.Error
		}
		if result != nil && len(response.Result) != 0 {
			if err := json.Unmarshal(response.Result, result); err != nil {
				return fmt.Errorf("%s: %w: %v", method, e.ErrMalformedResponse, err)
			}
		}
		return nil
	case <-c.closed:
		return fmt.Errorf("%s: %w", method, e.ErrSessionClosed)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}
