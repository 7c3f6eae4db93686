package analysis

import (
	"github.com/emirpasic/gods/maps/treemap"
)

// Token 语法树的一个叶子节点
// Kind 为节点类型，匿名节点（标点、运算符）的类型就是它的文本
type Token struct {
	Kind  string
	Text  string
	Start int
	End   int
}

// TokenStream 以起始偏移为键的有序 token 表，只在计算标记位置时使用
type TokenStream struct {
	tokens *treemap.Map
}

func NewTokenStream() *TokenStream {
	return &TokenStream{tokens: treemap.NewWithIntComparator()}
}

func (s *TokenStream) Add(token *Token) {
	s.tokens.Put(token.Start, token)
}

func (s *TokenStream) Len() int {
	return s.tokens.Size()
}

// At 从 offset 开始的 token
func (s *TokenStream) At(offset int) (*Token, bool) {
	value, ok := s.tokens.Get(offset)
	if !ok {
		return nil, false
	}
	return value.(*Token), true
}

// Find 起始偏移在 [left, right) 中第一个满足 match 的 token
func (s *TokenStream) Find(left, right int, match func(token *Token) bool) (*Token, bool) {
	key, value := s.tokens.Ceiling(left)
	for key != nil && key.(int) < right {
		token := value.(*Token)
		if match(token) {
			return token, true
		}
		key, value = s.tokens.Ceiling(key.(int) + 1)
	}
	return nil, false
}
