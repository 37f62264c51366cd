package expressions

import (
	"context"
	"sort"
	"sync"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	e "github.com/fansqz/debug-engine/error"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const DefaultCacheSize = 256

// Evaluator 对表达式求值，通常由后端传输层实现
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (string, error)
}

// Store 监视表达式管理
// 求值结果缓存到程序继续执行为止
type Store struct {
	lock        sync.RWMutex
	nextID      int
	expressions map[int]string
	cache       *lru.Cache
}

func NewStore(cacheSize int) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		// 只有size非法时才会失败
		panic(err)
	}
	return &Store{
		nextID:      1,
		expressions: map[int]string{},
		cache:       cache,
	}
}

// Add 添加监视表达式，相同文本返回已有编号
func (s *Store) Add(text string) int {
	defer s.lock.Unlock()
	s.lock.Lock()
	if id, ok := s.findByText(text); ok {
		return id
	}
	id := s.nextID
	s.nextID++
	s.expressions[id] = text
	return id
}

// Remove 按编号删除，返回最后一次求值的结果
func (s *Store) Remove(id int) (debugger.VariableInfo, error) {
	defer s.lock.Unlock()
	s.lock.Lock()
	text, ok := s.expressions[id]
	if !ok {
		return debugger.VariableInfo{}, e.ErrExpressionNotFound
	}
	delete(s.expressions, id)
	return s.info(id, text), nil
}

// RemoveText 按表达式文本删除
func (s *Store) RemoveText(text string) (debugger.VariableInfo, bool) {
	defer s.lock.Unlock()
	s.lock.Lock()
	id, ok := s.findByText(text)
	if !ok {
		return debugger.VariableInfo{}, false
	}
	delete(s.expressions, id)
	return s.info(id, text), true
}

func (s *Store) Update(id int, text string) error {
	defer s.lock.Unlock()
	s.lock.Lock()
	if _, ok := s.expressions[id]; !ok {
		return e.ErrExpressionNotFound
	}
	s.expressions[id] = text
	return nil
}

func (s *Store) Find(id int) (string, error) {
	defer s.lock.RUnlock()
	s.lock.RLock()
	text, ok := s.expressions[id]
	if !ok {
		return "", e.ErrExpressionNotFound
	}
	return text, nil
}

func (s *Store) findByText(text string) (int, bool) {
	for id, t := range s.expressions {
		if t == text {
			return id, true
		}
	}
	return 0, false
}

// List 所有监视表达式及其缓存的值，按编号排序
func (s *Store) List() []debugger.VariableInfo {
	defer s.lock.RUnlock()
	s.lock.RLock()
	answer := make([]debugger.VariableInfo, 0, len(s.expressions))
	for _, id := range s.sortedIDs() {
		answer = append(answer, s.info(id, s.expressions[id]))
	}
	return answer
}

func (s *Store) sortedIDs() []int {
	ids := make([]int, 0, len(s.expressions))
	for id := range s.expressions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Store) info(id int, text string) debugger.VariableInfo {
	info := debugger.VariableInfo{ID: id, Name: text, Scope: constants.ScopeWatch}
	if cached, ok := s.cache.Peek(text); ok {
		c := cached.(debugger.VariableInfo)
		info.Value = c.Value
		info.Error = c.Error
	}
	return info
}

// Evaluate 在暂停状态下求值，命中缓存时不访问后端
func (s *Store) Evaluate(ctx context.Context, evaluator Evaluator, text string, state debugger.DebuggerState) (debugger.VariableInfo, error) {
	if !state.Is(debugger.Paused) {
		return debugger.VariableInfo{}, e.ErrNotPaused
	}
	if cached, ok := s.cache.Get(text); ok {
		return cached.(debugger.VariableInfo), nil
	}
	info := debugger.VariableInfo{Name: text, Scope: constants.ScopeWatch}
	value, err := evaluator.Evaluate(ctx, text)
	if err != nil {
		return info, err
	}
	info.Value = value
	s.cache.Add(text, info)
	return info, nil
}

// EvaluateAll 对所有监视表达式求值，单个失败写入Error字段
func (s *Store) EvaluateAll(ctx context.Context, evaluator Evaluator, state debugger.DebuggerState) ([]debugger.VariableInfo, error) {
	if !state.Is(debugger.Paused) {
		return nil, e.ErrNotPaused
	}
	s.lock.RLock()
	ids := s.sortedIDs()
	texts := make([]string, len(ids))
	for i, id := range ids {
		texts[i] = s.expressions[id]
	}
	s.lock.RUnlock()

	answer := make([]debugger.VariableInfo, 0, len(ids))
	for i, id := range ids {
		info, err := s.Evaluate(ctx, evaluator, texts[i], state)
		if err != nil {
			logrus.Debugf("[Expressions] evaluate %s fail, err = %v", texts[i], err)
			info.Error = err.Error()
			s.cache.Add(texts[i], info)
		}
		info.ID = id
		answer = append(answer, info)
	}
	return answer, nil
}

// Purge 程序继续执行后缓存失效
func (s *Store) Purge() {
	s.cache.Purge()
}

func (s *Store) Len() int {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return len(s.expressions)
}

func (s *Store) Reset() {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.expressions = map[int]string{}
	s.nextID = 1
	s.cache.Purge()
}
