package docs

import "errors"

var (
	// ErrDocNotCached 文档在缓存中没有条目（生命周期不一致）
	ErrDocNotCached = errors.New("document not present in cache")

	// ErrInvalidChange 变更无法重放（如 Insert 偏移越界）
	ErrInvalidChange = errors.New("invalid change")

	// ErrSubscriberGone 订阅者的事件通道已关闭或已满
	ErrSubscriberGone = errors.New("subscriber channel closed or full")
)
