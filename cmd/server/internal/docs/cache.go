package docs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Totodore/doscenario-services/pkg/metrics"
)

// ChangeStore 是变更日志缓存需要的持久层子集
type ChangeStore interface {
	GetDocumentContent(ctx context.Context, id int64) (string, error)
	SetDocContent(ctx context.Context, id int64, content string) error
}

// CacheConfig 写回策略参数
type CacheConfig struct {
	// SweepInterval 后台扫描周期
	SweepInterval time.Duration
	// StaleAfter 条目空闲超过该时长后在下次扫描时落盘
	StaleAfter time.Duration
	// MaxBatches 待写批次数超过该值后在下次扫描时落盘
	MaxBatches int
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 100
	}
	return c
}

// changeBatch 同一会话在一次写调用中提交的变更序列
// 相邻的同会话批次在追加时合并，避免快速输入产生碎片
type changeBatch struct {
	session int64
	changes []Change
}

// docCacheEntry 单个打开文档的待写状态
// mu 保证日志追加与重建/落盘互斥; version 每次写调用递增且从不回退
type docCacheEntry struct {
	mu         sync.Mutex
	batches    []changeBatch
	lastUpdate time.Time
	version    uint64
}

// Cache 按文档累积增量变更的写回缓存
// 变更先进内存并立即广播，仅在空闲或积压过多时才写入持久层
type Cache struct {
	entries cmap.ConcurrentMap[int64, *docCacheEntry]
	store   ChangeStore
	cfg     CacheConfig
	log     *slog.Logger

	// now 可在测试中替换以驱动过期判定
	now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// shardInt64 是文档 id 的分片函数（FNV-1a）
func shardInt64(key int64) uint32 {
	hash := uint64(14695981039346656037)
	for i := 0; i < 8; i++ {
		hash ^= uint64(key>>(8*i)) & 0xff
		hash *= 1099511628211
	}
	return uint32(hash)
}

// NewCache 创建缓存并启动后台扫描
func NewCache(store ChangeStore, cfg CacheConfig, log *slog.Logger) *Cache {
	c := &Cache{
		entries: cmap.NewWithCustomShardingFunction[int64, *docCacheEntry](shardInt64),
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Register 确保文档有缓存条目并返回重建后的内容和当前版本号
// 幂等：对已打开的文档重复调用只是重新读取状态，不会清空日志
func (c *Cache) Register(ctx context.Context, docID int64) (string, uint64, error) {
	entry := c.entries.Upsert(docID, nil, func(exists bool, inMap, _ *docCacheEntry) *docCacheEntry {
		if exists {
			return inMap
		}
		return &docCacheEntry{lastUpdate: c.now()}
	})
	metrics.SetCachedDocs(c.entries.Count())

	entry.mu.Lock()
	defer entry.mu.Unlock()
	content, err := c.reconstructLocked(ctx, docID, entry)
	if err != nil {
		return "", 0, err
	}
	return content, entry.version, nil
}

// Reconstruct 返回 durable 内容加待写日志重放后的当前内容
func (c *Cache) Reconstruct(ctx context.Context, docID int64) (string, error) {
	entry, ok := c.entries.Get(docID)
	if !ok {
		return "", fmt.Errorf("doc %d: %w", docID, ErrDocNotCached)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return c.reconstructLocked(ctx, docID, entry)
}

// reconstructLocked 在持有条目锁的前提下重放日志
func (c *Cache) reconstructLocked(ctx context.Context, docID int64, entry *docCacheEntry) (string, error) {
	content, err := c.store.GetDocumentContent(ctx, docID)
	if err != nil {
		return "", fmt.Errorf("doc %d: %w", docID, err)
	}
	for _, batch := range entry.batches {
		for _, change := range batch.changes {
			content, err = applyChange(content, change)
			if err != nil {
				return "", fmt.Errorf("doc %d: %w", docID, err)
			}
		}
	}
	return content, nil
}

// ApplyChanges 追加一次写调用提交的变更
// clientVersion 仅透传记录，不用于拒绝落后的提交（按服务端到达序生效）
// 文档无条目时为 no-op：并发的关闭/删除可能刚移除了条目，不能隐式重建
func (c *Cache) ApplyChanges(session, docID int64, changes []Change, clientVersion uint64) {
	entry, ok := c.entries.Get(docID)
	if !ok {
		c.log.Warn("write to a doc without cache entry, dropping",
			"doc_id", docID, "session_id", session, "client_version", clientVersion)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	coalesced := false
	if n := len(entry.batches); n > 0 && entry.batches[n-1].session == session {
		entry.batches[n-1].changes = append(entry.batches[n-1].changes, changes...)
		coalesced = true
	} else {
		entry.batches = append(entry.batches, changeBatch{session: session, changes: changes})
	}
	entry.lastUpdate = c.now()
	entry.version++
	metrics.RecordWrite(coalesced)
}

// Version 返回文档当前版本号
func (c *Cache) Version(docID int64) (uint64, bool) {
	entry, ok := c.entries.Get(docID)
	if !ok {
		return 0, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.version, true
}

// Flush 重建内容、写回持久层并清空待写日志
// 失败时保留日志，version 永不重置
func (c *Cache) Flush(ctx context.Context, docID int64) error {
	return c.flush(ctx, docID, "manual")
}

func (c *Cache) flush(ctx context.Context, docID int64, trigger string) error {
	entry, ok := c.entries.Get(docID)
	if !ok {
		return fmt.Errorf("doc %d: %w", docID, ErrDocNotCached)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if len(entry.batches) == 0 {
		return nil
	}

	start := time.Now()
	content, err := c.reconstructLocked(ctx, docID, entry)
	if err == nil {
		err = c.store.SetDocContent(ctx, docID, content)
	}
	metrics.RecordFlush(trigger, time.Since(start).Seconds(), err)
	if err != nil {
		return err
	}
	entry.batches = nil
	return nil
}

// Evict 落盘后移除缓存条目，最后一个订阅者离开时调用
func (c *Cache) Evict(ctx context.Context, docID int64) error {
	if err := c.flush(ctx, docID, "evict"); err != nil {
		if errors.Is(err, ErrDocNotCached) {
			return nil
		}
		return err
	}
	c.entries.Remove(docID)
	metrics.SetCachedDocs(c.entries.Count())
	return nil
}

// Drop 不落盘直接移除条目，文档本身被删除时使用
func (c *Cache) Drop(docID int64) {
	c.entries.Remove(docID)
	metrics.SetCachedDocs(c.entries.Count())
}

// Checksum 重建内容并与客户端的 CRC-32 比较
func (c *Cache) Checksum(ctx context.Context, docID int64, crc uint32) (bool, error) {
	content, err := c.Reconstruct(ctx, docID)
	if err != nil {
		return false, err
	}
	return crc32.ChecksumIEEE([]byte(content)) == crc, nil
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepOnce(context.Background())
		}
	}
}

// sweepOnce 挑出空闲过久或积压过多的文档并发落盘
// 单个文档的失败只记录日志，下个周期重试，不影响其他文档
func (c *Cache) sweepOnce(ctx context.Context) {
	now := c.now()
	var due []int64
	for item := range c.entries.IterBuffered() {
		entry := item.Val
		entry.mu.Lock()
		pending := len(entry.batches)
		stale := now.Sub(entry.lastUpdate) > c.cfg.StaleAfter
		entry.mu.Unlock()
		if pending > 0 && (stale || pending > c.cfg.MaxBatches) {
			due = append(due, item.Key)
		}
	}
	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, docID := range due {
		wg.Add(1)
		go func(docID int64) {
			defer wg.Done()
			if err := c.flush(ctx, docID, "sweep"); err != nil {
				c.log.Error("sweep flush failed", "doc_id", docID, "error", err)
			}
		}(docID)
	}
	wg.Wait()
	c.log.Debug("sweep complete", "flushed", len(due), "cached_docs", c.entries.Count())
}

// Close 停止后台扫描并把所有待写日志落盘
func (c *Cache) Close(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stop) })
	for _, docID := range c.entries.Keys() {
		if err := c.flush(ctx, docID, "shutdown"); err != nil && !errors.Is(err, ErrDocNotCached) {
			c.log.Error("shutdown flush failed", "doc_id", docID, "error", err)
		}
	}
}
