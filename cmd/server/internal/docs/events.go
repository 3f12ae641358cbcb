package docs

// EventType 标识广播给订阅者的事件种类
type EventType string

const (
	// EventOpened 有新用户正在打开文档（在其会话注册之前发给已有观看者）
	EventOpened EventType = "open"
	// EventSubscribed 单播给新会话，告知其分配到的会话 ID
	EventSubscribed EventType = "subscribed"
	// EventWrote 某个会话提交了一批变更
	EventWrote EventType = "write"
	// EventClosed 某个会话离开了文档
	EventClosed EventType = "close"
	// EventRemoved 文档被删除，订阅者应关闭自己的流
	EventRemoved EventType = "remove"
)

// Event 推送给文档订阅者的消息
// Changes 仅在 EventWrote 时填充; SessionID 在 Subscribed/Wrote/Closed 时填充
type Event struct {
	Type      EventType  `json:"event"`
	DocID     int64      `json:"doc_id"`
	UserID    string     `json:"user_id,omitempty"`
	UserName  string     `json:"user_name,omitempty"`
	SessionID int64      `json:"session_id,omitempty"`
	Changes   ChangeList `json:"changes,omitempty"`
}
