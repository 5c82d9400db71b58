// Package metrics 提供问答服务的业务指标收集。
//
// 指标实例由装配代码显式创建并注入，不提供全局单例。
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 问答服务业务指标。计数器用原子操作，耗时累加用互斥锁。
type Metrics struct {
	// 问答指标
	asksTotal         uint64 // 总问答次数
	asksCacheHits     uint64 // 缓存命中次数
	asksDeduplicated  uint64 // 去重命中次数
	asksLowConfidence uint64 // 低置信度结果次数
	asksErrors        uint64 // 问答失败次数

	// 检索指标
	retrievalTotal    uint64  // 总检索次数
	retrievalDegraded uint64  // 单后端降级次数
	retrievalErrors   uint64  // 检索失败次数
	retrievalDuration float64 // 检索总耗时（秒）

	// 生成指标
	generationTotal    uint64  // 总生成次数
	generationErrors   uint64  // 生成失败次数
	generationDuration float64 // 生成总耗时（秒）

	// 摄取指标
	documentsIngested uint64 // 已摄取文档数
	chunksCreated     uint64 // 已创建分块数
	chunksEmbedded    uint64 // 已嵌入分块数
	ingestErrors      uint64 // 摄取失败次数

	startTime  time.Time
	durationMu sync.Mutex
}

// New 创建指标实例。
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordAsk 记录一次问答。
func (m *Metrics) RecordAsk(cacheHit, deduplicated, lowConfidence bool, err error) {
	atomic.AddUint64(&m.asksTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.asksErrors, 1)
		return
	}
	if cacheHit {
		atomic.AddUint64(&m.asksCacheHits, 1)
	}
	if deduplicated {
		atomic.AddUint64(&m.asksDeduplicated, 1)
	}
	if lowConfidence {
		atomic.AddUint64(&m.asksLowConfidence, 1)
	}
}

// RecordRetrieval 记录一次检索。
func (m *Metrics) RecordRetrieval(duration time.Duration, degraded bool, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}
	if degraded {
		atomic.AddUint64(&m.retrievalDegraded, 1)
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGeneration 记录一次生成调用。
func (m *Metrics) RecordGeneration(duration time.Duration, err error) {
	atomic.AddUint64(&m.generationTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.generationErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.generationDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordIngest 记录一次文档摄取。
func (m *Metrics) RecordIngest(chunksCreated, chunksEmbedded int, err error) {
	if err != nil {
		atomic.AddUint64(&m.ingestErrors, 1)
		return
	}
	atomic.AddUint64(&m.documentsIngested, 1)
	atomic.AddUint64(&m.chunksCreated, uint64(chunksCreated))
	atomic.AddUint64(&m.chunksEmbedded, uint64(chunksEmbedded))
}

// Stats 导出当前指标快照。
func (m *Metrics) Stats() map[string]any {
	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	generationDuration := m.generationDuration
	m.durationMu.Unlock()

	return map[string]any{
		"asks": map[string]any{
			"total":          atomic.LoadUint64(&m.asksTotal),
			"cache_hits":     atomic.LoadUint64(&m.asksCacheHits),
			"deduplicated":   atomic.LoadUint64(&m.asksDeduplicated),
			"low_confidence": atomic.LoadUint64(&m.asksLowConfidence),
			"errors":         atomic.LoadUint64(&m.asksErrors),
		},
		"retrieval": map[string]any{
			"total":            atomic.LoadUint64(&m.retrievalTotal),
			"degraded":         atomic.LoadUint64(&m.retrievalDegraded),
			"errors":           atomic.LoadUint64(&m.retrievalErrors),
			"duration_seconds": retrievalDuration,
		},
		"generation": map[string]any{
			"total":            atomic.LoadUint64(&m.generationTotal),
			"errors":           atomic.LoadUint64(&m.generationErrors),
			"duration_seconds": generationDuration,
		},
		"ingest": map[string]any{
			"documents":       atomic.LoadUint64(&m.documentsIngested),
			"chunks_created":  atomic.LoadUint64(&m.chunksCreated),
			"chunks_embedded": atomic.LoadUint64(&m.chunksEmbedded),
			"errors":          atomic.LoadUint64(&m.ingestErrors),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}
