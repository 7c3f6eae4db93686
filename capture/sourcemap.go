package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gosourcemap "github.com/go-sourcemap/sourcemap"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

type sourceMapRef struct {
	scriptURL    string
	sourceMapURL string
}

// SourceMaps
// 记录脚本声明的 source map，在需要时才加载解析
// 支持 data: URL、本地文件路径和 file:// URL
type SourceMaps struct {
	mutex     sync.RWMutex
	refs      map[string]sourceMapRef
	consumers *lru.Cache[string, *gosourcemap.Consumer]
}

func NewSourceMaps(size int) (*SourceMaps, error) {
	consumers, err := lru.New[string, *gosourcemap.Consumer](size)
	if err != nil {
		return nil, err
	}
	return &SourceMaps{refs: map[string]sourceMapRef{}, consumers: consumers}, nil
}

// Register 记录脚本的 source map 地址
func (s *SourceMaps) Register(scriptID, scriptURL, sourceMapURL string) {
	if sourceMapURL == "" {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.refs[scriptID] = sourceMapRef{scriptURL: scriptURL, sourceMapURL: sourceMapURL}
}

// Resolve 把脚本中的位置（行列都从 0 开始）映射回原始源码，返回 "file:line:column"
func (s *SourceMaps) Resolve(scriptID string, line, column int) (string, bool) {
	consumer := s.consumer(scriptID)
	if consumer == nil {
		return "", false
	}
	file, _, originalLine, originalColumn, ok := consumer.Source(line+1, column)
	if !ok || file == "" || originalLine <= 0 {
		return "", false
	}
	return fmt.Sprintf("%s:%d:%d", file, originalLine, originalColumn+1), true
}

func (s *SourceMaps) consumer(scriptID string) *gosourcemap.Consumer {
	if consumer, ok := s.consumers.Get(scriptID); ok {
		return consumer
	}
	s.mutex.RLock()
	ref, ok := s.refs[scriptID]
	s.mutex.RUnlock()
	if !ok {
		return nil
	}
	data, err := loadSourceMap(ref)
	var consumer *gosourcemap.Consumer
	if err == nil {
		consumer, err = gosourcemap.Parse(ref.scriptURL, data)
	}
	if err != nil {
		logrus.Warnf("[SourceMaps] load source map of %s fail, err = %v", ref.scriptURL, err)
	}
	// 加载失败也缓存，避免每次都重新读取
	s.consumers.Add(scriptID, consumer)
	return consumer
}

func loadSourceMap(ref sourceMapRef) ([]byte, error) {
	if strings.HasPrefix(ref.sourceMapURL, "data:") {
		return decodeDataURL(ref.sourceMapURL)
	}
	location, err := url.Parse(ref.sourceMapURL)
	if err != nil {
		return nil, err
	}
	if location.Scheme == "" {
		base, err := url.Parse(ref.scriptURL)
		if err != nil {
			return nil, err
		}
		if base.Scheme == "" {
			return os.ReadFile(filepath.Join(filepath.Dir(ref.scriptURL), ref.sourceMapURL))
		}
		location = base.ResolveReference(location)
	}
	if location.Scheme != "file" {
		return nil, fmt.Errorf("unsupported source map location %s", location)
	}
	return os.ReadFile(location.Path)
}

func decodeDataURL(dataURL string) ([]byte, error) {
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return nil, errors.New("malformed data url")
	}
	header, payload := dataURL[len("data:"):comma], dataURL[comma+1:]
	if strings.HasSuffix(header, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}
