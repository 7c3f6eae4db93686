package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	e "github.com/fansqz/exception-context/error"
	"github.com/fansqz/exception-context/inspector"
)

// Correlator 把 ErrorId 和被抛出的值关联起来，之后可以通过同一个值取回 ErrorId
type Correlator interface {
	Tag(ctx context.Context, thrown *inspector.RemoteObject, id int64) error
	Lookup(ctx context.Context, thrown *inspector.RemoteObject) (int64, bool, error)
}

// CorrelationKey 运行时中保存关联表的全局 Symbol 的名字
const CorrelationKey = "exception-context#errorIds"

const tagFunction = `function tag(key, id) {
  const k = Symbol.for(key);
  const t = globalThis[k] || (globalThis[k] = new WeakMap());
  t.set(this, id);
}`

const lookupFunction = `function lookup(key) {
  const t = globalThis[Symbol.for(key)];
  return t ? t.get(this) : undefined;
}`

// RemoteCorrelator
// 在被调试的运行时中维护一个 WeakMap 作为关联表，键是被抛出的对象本身
// 不会在异常对象上增加任何属性，对象被回收后关联自动失效
type RemoteCorrelator struct {
	inspector inspector.Inspector
	key       string
}

func NewRemoteCorrelator(ins inspector.Inspector) *RemoteCorrelator {
	return &RemoteCorrelator{inspector: ins, key: CorrelationKey}
}

func (r *RemoteCorrelator) Tag(ctx context.Context, thrown *inspector.RemoteObject, id int64) error {
	if thrown == nil || thrown.ObjectID == "" {
		return e.ErrNoExceptionValue
	}
	result, err := r.inspector.CallFunctionOn(ctx, &inspector.CallFunctionParams{
		ObjectID:            thrown.ObjectID,
		FunctionDeclaration: tagFunction,
		Arguments:           []inspector.CallArgument{{Value: r.key}, {Value: id}},
	})
	if err != nil {
		return fmt.Errorf("tag error %d: %w", id, err)
	}
	if result.ExceptionDetails != nil {
		return fmt.Errorf("tag error %d: %s", id, result.ExceptionDetails.Text)
	}
	return nil
}

func (r *RemoteCorrelator) Lookup(ctx context.Context, thrown *inspector.RemoteObject) (int64, bool, error) {
	if thrown == nil || thrown.ObjectID == "" {
		return 0, false, nil
	}
	result, err := r.inspector.CallFunctionOn(ctx, &inspector.CallFunctionParams{
		ObjectID:            thrown.ObjectID,
		FunctionDeclaration: lookupFunction,
		Arguments:           []inspector.CallArgument{{Value: r.key}},
		ReturnByValue:       true,
	})
	if err != nil {
		return 0, false, fmt.Errorf("lookup error id: %w", err)
	}
	if result.ExceptionDetails != nil || result.Result == nil || len(result.Result.Value) == 0 {
		return 0, false, nil
	}
	var id int64
	if err = json.Unmarshal(result.Result.Value, &id); err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

// IdentityTable 进程内的关联表，以对象句柄为键
// 只有拿到的是同一个句柄时才能取回，适合句柄在调用之间保持不变的 Inspector 实现
type IdentityTable struct {
	mutex sync.RWMutex
	ids   map[string]int64
}

func NewIdentityTable() *IdentityTable {
	return &IdentityTable{ids: map[string]int64{}}
}

func (t *IdentityTable) Tag(ctx context.Context, thrown *inspector.RemoteObject, id int64) error {
	if thrown == nil || thrown.ObjectID == "" {
		return e.ErrNoExceptionValue
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.ids[thrown.ObjectID] = id
	return nil
}

func (t *IdentityTable) Lookup(ctx context.Context, thrown *inspector.RemoteObject) (int64, bool, error) {
	if thrown == nil || thrown.ObjectID == "" {
		return 0, false, nil
	}
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	id, ok := t.ids[thrown.ObjectID]
	return id, ok, nil
}

// Reset 清空关联表
func (t *IdentityTable) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.ids = map[string]int64{}
}
