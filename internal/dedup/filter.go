// =============================================================================
// 文件: internal/dedup/filter.go
// 描述: 重复到达检测 - 双代布隆过滤器，记录见过的 (seq, len) 片段
//       只用于统计重传到达，不参与交付判断 (存在误报)
// =============================================================================
package dedup

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// 默认每代容量与误报率
	DefaultGenerationSize = 65536
	DefaultFalsePositive  = 0.001
)

// Stats 统计信息
type Stats struct {
	TotalChecks uint64
	SeenBefore  uint64
	Rotations   uint64
}

// Filter 双代布隆过滤器
//
// 当前代写满 generationSize 个键后整体轮换，上一代仍参与查询，
// 因此最近 generationSize 到 2*generationSize 个键始终可查。
type Filter struct {
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	count    uint
	genSize  uint
	fpRate   float64

	mu    sync.Mutex
	stats Stats
}

// New 创建过滤器
func New(generationSize uint, falsePositive float64) *Filter {
	if generationSize == 0 {
		generationSize = DefaultGenerationSize
	}
	if falsePositive <= 0 || falsePositive >= 1 {
		falsePositive = DefaultFalsePositive
	}
	return &Filter{
		current: bloom.NewWithEstimates(generationSize, falsePositive),
		genSize: generationSize,
		fpRate:  falsePositive,
	}
}

// segmentKey (seq, len) 编码为 8 字节键
func segmentKey(seq uint32, length int) []byte {
	var key [8]byte
	binary.BigEndian.PutUint32(key[0:4], seq)
	binary.BigEndian.PutUint32(key[4:8], uint32(length))
	return key[:]
}

// CheckAndMark 检查并标记片段，返回 true 表示以前 (可能) 见过
func (f *Filter) CheckAndMark(seq uint32, length int) bool {
	key := segmentKey(seq, length)
	atomic.AddUint64(&f.stats.TotalChecks, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	seen := f.current.Test(key) || (f.previous != nil && f.previous.Test(key))
	if seen {
		atomic.AddUint64(&f.stats.SeenBefore, 1)
		return true
	}

	f.current.Add(key)
	f.count++
	if f.count >= f.genSize {
		f.rotate()
	}
	return false
}

// rotate 轮换代 (需要持有锁)
func (f *Filter) rotate() {
	f.previous = f.current
	f.current = bloom.NewWithEstimates(f.genSize, f.fpRate)
	f.count = 0
	atomic.AddUint64(&f.stats.Rotations, 1)
}

// reset 清空
func (f *Filter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = bloom.NewWithEstimates(f.genSize, f.fpRate)
	f.previous = nil
	f.count = 0
}

// GetStats 获取统计
func (f *Filter) GetStats() Stats {
	return Stats{
		TotalChecks: atomic.LoadUint64(&f.stats.TotalChecks),
		SeenBefore:  atomic.LoadUint64(&f.stats.SeenBefore),
		Rotations:   atomic.LoadUint64(&f.stats.Rotations),
	}
}
