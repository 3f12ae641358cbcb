package docs

import (
	"context"
	"errors"
	"hash/crc32"
	"testing"
	"time"

	"github.com/Totodore/doscenario-services/cmd/server/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	store.PutUser(storage.User{ID: "alice", Name: "Alice"})
	store.PutUser(storage.User{ID: "bob", Name: "Bob"})
	store.PutUser(storage.User{ID: "carol", Name: "Carol"})
	svc := NewService(store, CacheConfig{SweepInterval: time.Hour}, &seqIDs{}, testLogger())
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc, store
}

func TestServiceOpenMergesLiveState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	docID := store.PutDocument(storage.Document{Title: "scenario", Content: "hello"})
	store.PutSheet(storage.Sheet{DocumentID: docID, Title: "notes"})

	res, err := svc.Open(ctx, docID)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if res.Title != "scenario" || res.Content != "hello" || res.Version != 0 {
		t.Fatalf("unexpected open result: %+v", res)
	}
	if len(res.Sheets) != 1 || res.Sheets[0].Title != "notes" {
		t.Fatalf("sheets missing: %+v", res.Sheets)
	}

	// 写入后再次打开应返回重建内容与递增的版本
	svc.Write(ctx, docID, 1, "alice", []Change{Insert{Position: 5, Content: "!"}}, 0)
	res, err = svc.Open(ctx, docID)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if res.Content != "hello!" || res.Version != 1 {
		t.Fatalf("live state not merged: %+v", res)
	}
}

func TestServiceOpenUnknownDoc(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Open(context.Background(), 404); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound, got %v", err)
	}
}

func TestServiceCreateThenOpenShape(t *testing.T) {
	svc, store := newTestService(t)
	res, err := svc.Create(context.Background(), "fresh", 7, "alice")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.Title != "fresh" || res.ProjectID != 7 || res.CreatedByID != "alice" {
		t.Fatalf("unexpected create result: %+v", res)
	}
	if res.UID == "" {
		t.Fatal("created doc missing uid")
	}
	if res.Content != "" || res.Version != 0 {
		t.Fatalf("new doc should start empty: %+v", res)
	}
	if _, err := store.GetDocument(context.Background(), res.ID); err != nil {
		t.Fatalf("created row missing: %v", err)
	}
}

func TestServiceWriteFansOutToOtherSessions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	docID := store.PutDocument(storage.Document{Title: "shared"})
	if _, err := svc.Open(ctx, docID); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	a, err := svc.Subscribe(ctx, docID, "alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	recvEvent(t, a)
	b, _ := svc.Subscribe(ctx, docID, "bob")
	recvEvent(t, a) // Opened{bob}
	recvEvent(t, b)
	c, _ := svc.Subscribe(ctx, docID, "carol")
	recvEvent(t, a)
	recvEvent(t, b)
	recvEvent(t, c)

	changes := []Change{Insert{Position: 0, Content: "edit"}}
	svc.Write(ctx, docID, a.ID(), "alice", changes, 0)

	for _, sub := range []*Subscriber{b, c} {
		ev := recvEvent(t, sub)
		if ev.Type != EventWrote || ev.UserID != "alice" || ev.SessionID != a.ID() {
			t.Fatalf("expected Wrote from alice, got %+v", ev)
		}
		if len(ev.Changes) != 1 {
			t.Fatalf("changes not intact: %+v", ev.Changes)
		}
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("writer received echo: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServiceSubscribeUnknownUser(t *testing.T) {
	svc, store := newTestService(t)
	docID := store.PutDocument(storage.Document{Title: "doc"})
	if _, err := svc.Subscribe(context.Background(), docID, "mallory"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected storage.ErrNotFound, got %v", err)
	}
}

func TestServiceLastOutEviction(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	docID := store.PutDocument(storage.Document{Title: "solo", Content: "hello"})
	if _, err := svc.Open(ctx, docID); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	sub, err := svc.Subscribe(ctx, docID, "alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	recvEvent(t, sub)

	svc.Write(ctx, docID, sub.ID(), "alice", []Change{Insert{Position: 5, Content: " world"}}, 0)
	svc.Close(docID, sub.ID(), "alice")
	expectClosed(t, sub)

	// 最后一个订阅者离开后立即落盘驱逐
	if content, _ := store.GetDocumentContent(ctx, docID); content != "hello world" {
		t.Fatalf("pending edits not flushed on last unsubscribe: %q", content)
	}
	if _, ok := svc.cache.entries.Get(docID); ok {
		t.Fatal("cache entry survived last unsubscribe")
	}

	// 再次打开只剩 durable 内容，待写日志为空
	res, err := svc.Open(ctx, docID)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if res.Content != "hello world" || res.Version != 0 {
		t.Fatalf("unexpected reopened state: %+v", res)
	}
}

func TestServiceRemoveIsTerminal(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	docID := store.PutDocument(storage.Document{Title: "doomed", Content: "x"})
	if _, err := svc.Open(ctx, docID); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	a, _ := svc.Subscribe(ctx, docID, "alice")
	recvEvent(t, a)
	b, _ := svc.Subscribe(ctx, docID, "bob")
	recvEvent(t, a)
	recvEvent(t, b)

	// 待写变更随删除一起丢弃，不需要落盘
	svc.Write(ctx, docID, a.ID(), "alice", []Change{Insert{Position: 0, Content: "y"}}, 0)
	recvEvent(t, b) // Wrote

	if err := svc.Remove(ctx, docID, a.ID(), "alice"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	ev := recvEvent(t, b)
	if ev.Type != EventRemoved {
		t.Fatalf("expected Removed, got %+v", ev)
	}
	expectClosed(t, b)
	expectClosed(t, a)

	if _, err := store.GetDocument(ctx, docID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("durable row survived remove: %v", err)
	}
	if _, ok := svc.cache.entries.Get(docID); ok {
		t.Fatal("cache entry survived remove")
	}
}

func TestServiceChecksum(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	docID := store.PutDocument(storage.Document{Title: "sum", Content: "fin"})
	if _, err := svc.Open(ctx, docID); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	svc.Write(ctx, docID, 1, "alice", []Change{Insert{Position: 3, Content: "al"}}, 0)

	valid, err := svc.Checksum(ctx, docID, crc32.ChecksumIEEE([]byte("final")))
	if err != nil || !valid {
		t.Fatalf("expected valid checksum, got (%v, %v)", valid, err)
	}
	valid, err = svc.Checksum(ctx, docID, 12345)
	if err != nil || valid {
		t.Fatalf("expected invalid checksum, got (%v, %v)", valid, err)
	}
}

func TestServiceWriteEmptyBatchIsAckOnly(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	docID := store.PutDocument(storage.Document{Title: "doc"})
	if _, err := svc.Open(ctx, docID); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	svc.Write(ctx, docID, 1, "alice", nil, 0)
	if version, _ := svc.cache.Version(docID); version != 0 {
		t.Fatalf("empty write bumped version: %d", version)
	}
}
