package storage

import "time"

// Document 文档行（durable 副本，content 可能落后于内存中的变更日志）
type Document struct {
	ID           int64     `json:"id"`
	UID          string    `json:"uid"`
	Title        string    `json:"title"`
	Color        string    `json:"color,omitempty"`
	Content      string    `json:"-"`
	ProjectID    int64     `json:"project_id"`
	CreatedByID  string    `json:"created_by_id,omitempty"`
	LastEditorID string    `json:"last_editor_id,omitempty"`
	CreatedDate  time.Time `json:"created_date"`
	LastEditing  time.Time `json:"last_editing"`
}

// Sheet 隶属于文档的表格页
type Sheet struct {
	ID           int64     `json:"id"`
	UID          string    `json:"uid"`
	Title        string    `json:"title"`
	Color        string    `json:"color,omitempty"`
	DocumentID   int64     `json:"document_id"`
	ProjectID    int64     `json:"project_id"`
	CreatedByID  string    `json:"created_by_id,omitempty"`
	LastEditorID string    `json:"last_editor_id,omitempty"`
	CreatedDate  time.Time `json:"created_date"`
	LastEditing  time.Time `json:"last_editing"`
}

// User 用户行，docs 服务只读取 id 和 name
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
