package docs

import (
	"errors"
	"fmt"

	"github.com/sony/sonyflake"
)

// SessionIDs 按需生成全局唯一、大致按时间递增的会话 ID
type SessionIDs interface {
	Next() (int64, error)
}

type snowflakeIDs struct {
	sf *sonyflake.Sonyflake
}

// NewSessionIDs 创建基于 sonyflake 的会话 ID 生成器
func NewSessionIDs() (SessionIDs, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{})
	if sf == nil {
		return nil, errors.New("sonyflake init failed, no private ip available")
	}
	return &snowflakeIDs{sf: sf}, nil
}

func (s *snowflakeIDs) Next() (int64, error) {
	id, err := s.sf.NextID()
	if err != nil {
		return 0, fmt.Errorf("generate session id: %w", err)
	}
	return int64(id), nil
}
