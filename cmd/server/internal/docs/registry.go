package docs

import (
	"log/slog"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Totodore/doscenario-services/pkg/metrics"
)

// eventBufferSize 每个订阅者的出站事件缓冲大小
const eventBufferSize = 64

// Subscriber 一个会话的出站事件流
// 生命周期与事件通道一致：订阅时创建，显式关闭或检测到消费者断开时销毁
type Subscriber struct {
	id    int64
	docID int64

	mu     sync.Mutex
	closed bool
	events chan Event
}

// ID 返回分配给该订阅的会话 ID
func (s *Subscriber) ID() int64 { return s.id }

// DocID 返回订阅的文档
func (s *Subscriber) DocID() int64 { return s.docID }

// Events 返回只读事件通道，注销时通道被关闭
func (s *Subscriber) Events() <-chan Event { return s.events }

// send 非阻塞投递，通道已关闭或已满时报错
func (s *Subscriber) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberGone
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrSubscriberGone
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// subscriberSet 单个文档的在线会话集合
// dead 标记集合已从注册表摘除，Subscribe 据此重建新集合
type subscriberSet struct {
	mu   sync.Mutex
	dead bool
	subs map[int64]*Subscriber
}

// Registry 跟踪每个文档的在线会话并向它们扇出事件
type Registry struct {
	streams cmap.ConcurrentMap[int64, *subscriberSet]
	ids     SessionIDs
	log     *slog.Logger

	// onEmpty 在文档最后一个会话离开后调用（用于触发缓存落盘驱逐）
	onEmpty func(docID int64)
}

// NewRegistry 创建会话注册表
func NewRegistry(ids SessionIDs, log *slog.Logger) *Registry {
	return &Registry{
		streams: cmap.NewWithCustomShardingFunction[int64, *subscriberSet](shardInt64),
		ids:     ids,
		log:     log,
	}
}

// OnEmpty 注册最后一个会话离开时的回调
func (r *Registry) OnEmpty(fn func(docID int64)) {
	r.onEmpty = fn
}

// Subscribe 注册新会话并返回其事件流
// 已有观看者先收到 Opened，再注册新会话，最后单播 Subscribed 告知其会话 ID
func (r *Registry) Subscribe(docID int64, userID, userName string) (*Subscriber, error) {
	sessionID, err := r.ids.Next()
	if err != nil {
		return nil, err
	}
	sub := &Subscriber{
		id:     sessionID,
		docID:  docID,
		events: make(chan Event, eventBufferSize),
	}

	for {
		set := r.streams.Upsert(docID, nil, func(exists bool, inMap, _ *subscriberSet) *subscriberSet {
			if exists {
				return inMap
			}
			return &subscriberSet{subs: map[int64]*Subscriber{}}
		})
		set.mu.Lock()
		if set.dead {
			// 集合在并发注销中被摘除，重新创建
			set.mu.Unlock()
			continue
		}
		for _, other := range set.subs {
			r.deliver(other, Event{Type: EventOpened, DocID: docID, UserID: userID, UserName: userName})
		}
		set.subs[sessionID] = sub
		set.mu.Unlock()
		break
	}

	if err := sub.send(Event{Type: EventSubscribed, DocID: docID, SessionID: sessionID}); err != nil {
		return nil, err
	}
	metrics.RecordEventSent(string(EventSubscribed))
	metrics.SessionOpened()
	r.log.Info("doc stream subscribed", "doc_id", docID, "session_id", sessionID, "user_id", userID)
	return sub, nil
}

// Unsubscribe 注销会话并向剩余会话广播 Closed
// 会话已不存在时为 no-op; 集合变空时摘除并触发 onEmpty
func (r *Registry) Unsubscribe(docID, sessionID int64, userID, reason string) {
	set, ok := r.streams.Get(docID)
	if !ok {
		return
	}

	set.mu.Lock()
	sub, present := set.subs[sessionID]
	if !present {
		set.mu.Unlock()
		return
	}
	delete(set.subs, sessionID)
	for _, other := range set.subs {
		r.deliver(other, Event{Type: EventClosed, DocID: docID, UserID: userID, SessionID: sessionID})
	}
	empty := len(set.subs) == 0
	if empty {
		set.dead = true
	}
	set.mu.Unlock()

	sub.close()
	metrics.SessionClosed()
	r.log.Info("doc stream unsubscribed", "doc_id", docID, "session_id", sessionID, "reason", reason)

	if empty {
		r.streams.RemoveCb(docID, func(_ int64, v *subscriberSet, exists bool) bool {
			return exists && v == set
		})
		if r.onEmpty != nil {
			r.onEmpty(docID)
		}
	}
}

// RemoveDocument 向除调用会话外的订阅者广播 Removed，然后无条件关闭所有会话
// Removed 是终止信号，订阅者收到后应自行关闭流
func (r *Registry) RemoveDocument(docID, sessionID int64, userID string) {
	set, ok := r.streams.Get(docID)
	if !ok {
		return
	}

	set.mu.Lock()
	set.dead = true
	subs := make([]*Subscriber, 0, len(set.subs))
	for _, sub := range set.subs {
		subs = append(subs, sub)
	}
	set.subs = map[int64]*Subscriber{}
	set.mu.Unlock()
	r.streams.Remove(docID)

	for _, sub := range subs {
		if sub.id != sessionID {
			r.deliver(sub, Event{Type: EventRemoved, DocID: docID, UserID: userID})
		}
		sub.close()
		metrics.SessionClosed()
	}
	r.log.Info("doc streams removed", "doc_id", docID, "sessions", len(subs))
}

// Broadcast 投递事件给文档的全部在线会话
func (r *Registry) Broadcast(docID int64, ev Event) {
	r.BroadcastExcept(docID, ev, 0)
}

// BroadcastExcept 投递事件给除 except 外的在线会话
// 单个会话投递失败只记录，不影响其余会话，也不使触发调用失败
func (r *Registry) BroadcastExcept(docID int64, ev Event, except int64) {
	set, ok := r.streams.Get(docID)
	if !ok {
		return
	}
	set.mu.Lock()
	targets := make([]*Subscriber, 0, len(set.subs))
	for id, sub := range set.subs {
		if id != except {
			targets = append(targets, sub)
		}
	}
	set.mu.Unlock()

	for _, sub := range targets {
		r.deliver(sub, ev)
	}
}

// SessionCount 返回文档的在线会话数
func (r *Registry) SessionCount(docID int64) int {
	set, ok := r.streams.Get(docID)
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.subs)
}

func (r *Registry) deliver(sub *Subscriber, ev Event) {
	if err := sub.send(ev); err != nil {
		metrics.RecordEventDropped()
		r.log.Warn("dropping event for subscriber",
			"doc_id", sub.docID, "session_id", sub.id, "event", ev.Type)
		return
	}
	metrics.RecordEventSent(string(ev.Type))
}
