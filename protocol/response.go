package protocol

import (
	"encoding/json"
	"fmt"
)

// Response 请求的响应，result 和 error 二选一
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Message 从连接上读到的一条消息
// 带 id 的是响应，带 method 不带 id 的是事件
type Message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

func (m *Message) IsEvent() bool {
	return m.ID == 0 && m.Method != ""
}

func (m *Message) Response() *Response {
	return &Response{ID: m.ID, Result: m.Result, Error: m.Error}
}

func (m *Message) Event() *Event {
	return &Event{Method: m.Method, Params: m.Params}
}

// Error 远端返回的错误响应
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
	// Method 出错的请求方法，由客户端填充
	Method string `json:"-"`
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}
