package docs

import (
	"encoding/json"
	"fmt"
)

// Change 表示对文档内容的一次原子修改
// 三种变体: Insert / Remove / Replace，按到达顺序依次重放
type Change interface {
	isChange()
}

// Insert inserts Content at the given character offset.
type Insert struct {
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// Remove deletes the half-open character range [Position, Position+Size).
// Out-of-range bounds are clamped during replay, never rejected.
type Remove struct {
	Position int `json:"position"`
	Size     int `json:"size"`
}

// Replace discards the current content and substitutes Content wholesale.
type Replace struct {
	Content string `json:"content"`
}

func (Insert) isChange()  {}
func (Remove) isChange()  {}
func (Replace) isChange() {}

// ChangeList 是一次写调用提交的变更序列，负责 JSON 编解码
type ChangeList []Change

type changeEnvelope struct {
	Type     string `json:"type"`
	Position *int   `json:"position,omitempty"`
	Size     *int   `json:"size,omitempty"`
	Content  string `json:"content,omitempty"`
}

const (
	changeTypeInsert  = "insert"
	changeTypeRemove  = "remove"
	changeTypeReplace = "replace"
)

// MarshalJSON encodes each change as a tagged object.
func (cl ChangeList) MarshalJSON() ([]byte, error) {
	out := make([]changeEnvelope, 0, len(cl))
	for _, c := range cl {
		switch v := c.(type) {
		case Insert:
			pos := v.Position
			out = append(out, changeEnvelope{Type: changeTypeInsert, Position: &pos, Content: v.Content})
		case Remove:
			pos, size := v.Position, v.Size
			out = append(out, changeEnvelope{Type: changeTypeRemove, Position: &pos, Size: &size})
		case Replace:
			out = append(out, changeEnvelope{Type: changeTypeReplace, Content: v.Content})
		default:
			return nil, fmt.Errorf("unknown change variant %T", c)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of tagged change objects.
func (cl *ChangeList) UnmarshalJSON(data []byte) error {
	var raw []changeEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ChangeList, 0, len(raw))
	for _, env := range raw {
		switch env.Type {
		case changeTypeInsert:
			if env.Position == nil {
				return fmt.Errorf("insert change missing position")
			}
			out = append(out, Insert{Position: *env.Position, Content: env.Content})
		case changeTypeRemove:
			if env.Position == nil || env.Size == nil {
				return fmt.Errorf("remove change missing position or size")
			}
			out = append(out, Remove{Position: *env.Position, Size: *env.Size})
		case changeTypeReplace:
			out = append(out, Replace{Content: env.Content})
		default:
			return fmt.Errorf("unknown change type %q", env.Type)
		}
	}
	*cl = out
	return nil
}

// applyChange 将单个变更应用到内容上，偏移量以字符为单位
// Insert 越界视为数据损坏并报错; Remove 越界按有效范围截断
func applyChange(content string, c Change) (string, error) {
	switch v := c.(type) {
	case Insert:
		runes := []rune(content)
		if v.Position < 0 || v.Position > len(runes) {
			return "", fmt.Errorf("%w: insert at %d, content length %d", ErrInvalidChange, v.Position, len(runes))
		}
		return string(runes[:v.Position]) + v.Content + string(runes[v.Position:]), nil
	case Remove:
		runes := []rune(content)
		start := v.Position
		if start < 0 {
			start = 0
		}
		if start > len(runes) {
			start = len(runes)
		}
		stop := start
		if v.Size > 0 {
			// 不能先加再比较: 巨大的 size 会让加法溢出为负
			if v.Size >= len(runes)-start {
				stop = len(runes)
			} else {
				stop = start + v.Size
			}
		}
		return string(runes[:start]) + string(runes[stop:]), nil
	case Replace:
		return v.Content, nil
	default:
		return "", fmt.Errorf("unknown change variant %T", c)
	}
}
