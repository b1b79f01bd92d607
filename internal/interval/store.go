// =============================================================================
// 文件: internal/interval/store.go
// 描述: 乱序重组区间集合 - 按起始偏移排序、互不重叠
// =============================================================================
package interval

import (
	"github.com/google/btree"
)

// btree 分支因子
const degree = 8

// Span 字节区间 [Start, End)
type Span struct {
	Start uint32
	End   uint32
	Data  []byte
}

// Len 区间长度
func (s Span) Len() int {
	return int(s.End - s.Start)
}

func lessSpan(a, b Span) bool {
	return a.Start < b.Start
}

// Store 区间集合
//
// 不变量: 任意两个区间不重叠。相邻区间不合并，一个区间对应一次插入的一段新数据。
// 非并发安全，由接收循环独占。
type Store struct {
	tree  *btree.BTreeG[Span]
	bytes int
}

// New 创建区间集合
func New() *Store {
	return &Store{
		tree: btree.NewG[Span](degree, lessSpan),
	}
}

// Novel 返回 [start, start+len(data)) 中尚未被覆盖的子区间 (升序)
// 返回的 Data 是 data 的切片
func (s *Store) Novel(start uint32, data []byte) []Span {
	if len(data) == 0 {
		return nil
	}
	end := start + uint32(len(data))
	cursor := start

	// 起点之前的区间可能覆盖开头
	s.tree.DescendLessOrEqual(Span{Start: start}, func(prev Span) bool {
		if prev.End > cursor {
			cursor = prev.End
		}
		return false
	})

	var gaps []Span
	s.tree.AscendGreaterOrEqual(Span{Start: start}, func(cur Span) bool {
		if cur.Start >= end {
			return false
		}
		if cur.Start > cursor {
			gaps = append(gaps, slice(start, data, cursor, cur.Start))
		}
		if cur.End > cursor {
			cursor = cur.End
		}
		return cursor < end
	})

	if cursor < end {
		gaps = append(gaps, slice(start, data, cursor, end))
	}
	return gaps
}

func slice(base uint32, data []byte, from, to uint32) Span {
	return Span{
		Start: from,
		End:   to,
		Data:  data[from-base : to-base : to-base],
	}
}

// Put 存入区间，调用方保证与已有区间不重叠 (来自 Novel)
func (s *Store) Put(span Span) {
	if span.End <= span.Start {
		return
	}
	if old, replaced := s.tree.ReplaceOrInsert(span); replaced {
		s.bytes -= old.Len()
	}
	s.bytes += span.Len()
}

// Insert 插入数据中的新部分，返回实际存入的区间
func (s *Store) Insert(start uint32, data []byte) []Span {
	gaps := s.Novel(start, data)
	for _, g := range gaps {
		s.Put(g)
	}
	return gaps
}

// Delete 删除以 start 开头的区间
func (s *Store) Delete(start uint32) bool {
	old, ok := s.tree.Delete(Span{Start: start})
	if ok {
		s.bytes -= old.Len()
	}
	return ok
}

// PopContiguous 从 frontier 开始弹出连续区间，返回弹出的区间和新的 frontier
// 任何空洞都会停止弹出
func (s *Store) PopContiguous(frontier uint32) ([]Span, uint32) {
	var ready []Span
	for {
		min, ok := s.tree.Min()
		if !ok || min.Start != frontier {
			break
		}
		s.tree.DeleteMin()
		s.bytes -= min.Len()
		ready = append(ready, min)
		frontier = min.End
	}
	return ready, frontier
}

// Min 起始偏移最小的区间
func (s *Store) Min() (Span, bool) {
	return s.tree.Min()
}

// Len 区间数量
func (s *Store) Len() int {
	return s.tree.Len()
}

// Bytes 缓存的字节数
func (s *Store) Bytes() int {
	return s.bytes
}

// Spans 所有区间 (升序)
func (s *Store) Spans() []Span {
	spans := make([]Span, 0, s.tree.Len())
	s.tree.Ascend(func(sp Span) bool {
		spans = append(spans, sp)
		return true
	})
	return spans
}

// Clear 清空
func (s *Store) Clear() {
	s.tree.Clear(false)
	s.bytes = 0
}
