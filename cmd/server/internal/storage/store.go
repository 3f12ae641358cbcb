// Package storage 封装 docs 服务对持久层的全部访问
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 目标行不存在
var ErrNotFound = errors.New("row not found")

// Store 是 docs 核心消费的持久层契约
// 任何 I/O 或行缺失问题都以 error 形式返回，核心不关心具体驱动
type Store interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetDocumentContent(ctx context.Context, id int64) (string, error)
	GetDocSheets(ctx context.Context, docID int64) ([]Sheet, error)
	CreateDocument(ctx context.Context, title string, projectID int64, userID string) (int64, error)
	SetDocContent(ctx context.Context, id int64, content string) error
	DeleteDocument(ctx context.Context, id int64) error
}

// PGStore Postgres 实现，基于 pgxpool
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore 创建 Postgres Store
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// GetUser 按 id 读取用户
func (s *PGStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name)
	if err != nil {
		return nil, wrapQueryErr("get user", err)
	}
	return &u, nil
}

// GetDocument 读取文档元数据（不含 content）
func (s *PGStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, uid, title, COALESCE(color, ''), project_id,
		        COALESCE(created_by_id, ''), COALESCE(last_editor_id, ''),
		        created_date, last_editing
		 FROM document WHERE id = $1`, id,
	).Scan(&d.ID, &d.UID, &d.Title, &d.Color, &d.ProjectID,
		&d.CreatedByID, &d.LastEditorID, &d.CreatedDate, &d.LastEditing)
	if err != nil {
		return nil, wrapQueryErr("get document", err)
	}
	return &d, nil
}

// GetDocumentContent 读取文档的 durable 内容，NULL 视为空串
func (s *PGStore) GetDocumentContent(ctx context.Context, id int64) (string, error) {
	var content *string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM document WHERE id = $1`, id,
	).Scan(&content)
	if err != nil {
		return "", wrapQueryErr("get document content", err)
	}
	if content == nil {
		return "", nil
	}
	return *content, nil
}

// GetDocSheets 列出文档下的全部表格页
func (s *PGStore) GetDocSheets(ctx context.Context, docID int64) ([]Sheet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, uid, title, COALESCE(color, ''), document_id, project_id,
		        COALESCE(created_by_id, ''), COALESCE(last_editor_id, ''),
		        created_date, last_editing
		 FROM sheet WHERE document_id = $1 ORDER BY id`, docID,
	)
	if err != nil {
		return nil, wrapQueryErr("get doc sheets", err)
	}
	defer rows.Close()

	sheets := []Sheet{}
	for rows.Next() {
		var sh Sheet
		if err := rows.Scan(&sh.ID, &sh.UID, &sh.Title, &sh.Color, &sh.DocumentID, &sh.ProjectID,
			&sh.CreatedByID, &sh.LastEditorID, &sh.CreatedDate, &sh.LastEditing); err != nil {
			return nil, wrapQueryErr("scan sheet", err)
		}
		sheets = append(sheets, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("get doc sheets", err)
	}
	return sheets, nil
}

// CreateDocument 插入新文档并返回其 id
func (s *PGStore) CreateDocument(ctx context.Context, title string, projectID int64, userID string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO document (title, created_by_id, last_editor_id, project_id, uid, created_date, last_editing)
		 VALUES ($1, $2, $2, $3, $4, now(), now())
		 RETURNING id`,
		title, userID, projectID, uuid.NewString(),
	).Scan(&id)
	if err != nil {
		return 0, wrapQueryErr("create document", err)
	}
	return id, nil
}

// SetDocContent 把重建出来的内容写回 durable 副本
func (s *PGStore) SetDocContent(ctx context.Context, id int64, content string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document SET content = $1, last_editing = now() WHERE id = $2`,
		content, id,
	)
	if err != nil {
		return wrapQueryErr("set doc content", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set doc content: %w", ErrNotFound)
	}
	return nil
}

// DeleteDocument 删除文档行（表格页由外键级联删除）
func (s *PGStore) DeleteDocument(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM document WHERE id = $1`, id); err != nil {
		return wrapQueryErr("delete document", err)
	}
	return nil
}

func wrapQueryErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
