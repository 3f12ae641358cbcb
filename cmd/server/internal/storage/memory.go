package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore 内存 Store 实现，用于测试和本地开发（无需数据库）
type MemStore struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[int64]*Document
	sheets map[int64][]Sheet
	users  map[string]*User
}

// NewMemStore 创建空的内存 Store
func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		docs:   map[int64]*Document{},
		sheets: map[int64][]Sheet{},
		users:  map[string]*User{},
	}
}

// PutUser 预置一个用户
func (s *MemStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// PutDocument 预置一个文档，返回分配的 id
func (s *MemStore) PutDocument(d Document) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.nextID
		s.nextID++
	} else if d.ID >= s.nextID {
		s.nextID = d.ID + 1
	}
	s.docs[d.ID] = &d
	return d.ID
}

// PutSheet 预置一个表格页
func (s *MemStore) PutSheet(sh Sheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[sh.DocumentID] = append(s.sheets[sh.DocumentID], sh)
}

// GetUser 实现 Store
func (s *MemStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", ErrNotFound)
	}
	cpy := *u
	return &cpy, nil
}

// GetDocument 实现 Store
func (s *MemStore) GetDocument(_ context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("get document: %w", ErrNotFound)
	}
	cpy := *d
	return &cpy, nil
}

// GetDocumentContent 实现 Store
func (s *MemStore) GetDocumentContent(_ context.Context, id int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return "", fmt.Errorf("get document content: %w", ErrNotFound)
	}
	return d.Content, nil
}

// GetDocSheets 实现 Store
func (s *MemStore) GetDocSheets(_ context.Context, docID int64) ([]Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[docID]; !ok {
		return nil, fmt.Errorf("get doc sheets: %w", ErrNotFound)
	}
	return append([]Sheet{}, s.sheets[docID]...), nil
}

// CreateDocument 实现 Store
func (s *MemStore) CreateDocument(_ context.Context, title string, projectID int64, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	now := time.Now()
	s.docs[id] = &Document{
		ID:           id,
		UID:          uuid.NewString(),
		Title:        title,
		ProjectID:    projectID,
		CreatedByID:  userID,
		LastEditorID: userID,
		CreatedDate:  now,
		LastEditing:  now,
	}
	return id, nil
}

// SetDocContent 实现 Store
func (s *MemStore) SetDocContent(_ context.Context, id int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("set doc content: %w", ErrNotFound)
	}
	d.Content = content
	d.LastEditing = time.Now()
	return nil
}

// DeleteDocument 实现 Store
func (s *MemStore) DeleteDocument(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.sheets, id)
	return nil
}
