// Package docs 实现协同文档编辑的同步核心：
// 按文档累积增量变更的写回缓存、在线会话注册表与事件扇出，
// 以及把两者和持久层粘在一起的服务门面
package docs

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Totodore/doscenario-services/cmd/server/internal/storage"
)

// OpenDocResult Open/Create 的响应：durable 元数据加上内存中的实时内容和版本号
type OpenDocResult struct {
	storage.Document
	Sheets  []storage.Sheet `json:"sheets"`
	Content string          `json:"content"`
	Version uint64          `json:"version"`
}

// Service 面向 RPC 的文档服务门面
// 自身不持有状态，只编排缓存、注册表和持久层的调用时机
type Service struct {
	store    storage.Store
	cache    *Cache
	registry *Registry
	log      *slog.Logger
}

// NewService 组装缓存与注册表并接好最后一个会话离开时的驱逐策略
func NewService(store storage.Store, cacheCfg CacheConfig, ids SessionIDs, log *slog.Logger) *Service {
	cache := NewCache(store, cacheCfg, log)
	registry := NewRegistry(ids, log)
	s := &Service{
		store:    store,
		cache:    cache,
		registry: registry,
		log:      log,
	}
	registry.OnEmpty(func(docID int64) {
		// 最后一个观看者离开即落盘驱逐，不等待空闲扫描
		if err := cache.Evict(context.Background(), docID); err != nil {
			log.Error("evict after last unsubscribe failed", "doc_id", docID, "error", err)
		}
	})
	return s
}

// Cache 暴露底层缓存（测试和关停路径使用）
func (s *Service) Cache() *Cache { return s.cache }

// Registry 暴露底层注册表
func (s *Service) Registry() *Registry { return s.registry }

// Subscribe 解析用户身份并注册长连会话
func (s *Service) Subscribe(ctx context.Context, docID int64, userID string) (*Subscriber, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.registry.Subscribe(docID, userID, user.Name)
}

// Open 并发取元数据、表格页与缓存内容，合并为一个响应
// 缓存条目不存在时创建，已存在时按待写日志重建实时内容
func (s *Service) Open(ctx context.Context, docID int64) (*OpenDocResult, error) {
	var (
		doc     *storage.Document
		sheets  []storage.Sheet
		content string
		version uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		doc, err = s.store.GetDocument(gctx, docID)
		return err
	})
	g.Go(func() (err error) {
		sheets, err = s.store.GetDocSheets(gctx, docID)
		return err
	})
	g.Go(func() (err error) {
		content, version, err = s.cache.Register(gctx, docID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("open doc failed", "doc_id", docID, "error", err)
		return nil, err
	}
	return &OpenDocResult{Document: *doc, Sheets: sheets, Content: content, Version: version}, nil
}

// Create 先插入文档行再走 Open 流程
func (s *Service) Create(ctx context.Context, title string, projectID int64, userID string) (*OpenDocResult, error) {
	docID, err := s.store.CreateDocument(ctx, title, projectID, userID)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, docID)
}

// Write 追加变更并广播给其他在线会话
// 空变更集只确认不处理; 缓存条目缺失时 ApplyChanges 自行降级为 no-op
func (s *Service) Write(ctx context.Context, docID, sessionID int64, userID string, changes []Change, clientVersion uint64) {
	if len(changes) == 0 {
		return
	}
	s.cache.ApplyChanges(sessionID, docID, changes, clientVersion)
	s.registry.BroadcastExcept(docID, Event{
		Type:      EventWrote,
		DocID:     docID,
		UserID:    userID,
		SessionID: sessionID,
		Changes:   changes,
	}, sessionID)
}

// Close 显式注销一个会话
func (s *Service) Close(docID, sessionID int64, userID string) {
	s.registry.Unsubscribe(docID, sessionID, userID, "close")
}

// Disconnected 传输层检测到消费者断开时走同一条注销路径
func (s *Service) Disconnected(docID, sessionID int64, userID string) {
	s.registry.Unsubscribe(docID, sessionID, userID, "disconnect")
}

// Remove 删除文档：通知订阅者、删 durable 行、丢弃缓存条目（无需落盘）
// 此后对该 doc_id 的任何访问都不再有效
func (s *Service) Remove(ctx context.Context, docID, sessionID int64, userID string) error {
	s.registry.RemoveDocument(docID, sessionID, userID)
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	s.cache.Drop(docID)
	return nil
}

// Checksum 校验客户端内容与服务端重建内容的 CRC-32 是否一致
func (s *Service) Checksum(ctx context.Context, docID int64, crc uint32) (bool, error) {
	return s.cache.Checksum(ctx, docID, crc)
}

// Shutdown 停止后台扫描并把所有待写日志落盘
func (s *Service) Shutdown(ctx context.Context) {
	s.cache.Close(ctx)
}
