package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Totodore/doscenario-services/cmd/server/internal/docs"
	"github.com/Totodore/doscenario-services/pkg/logger"
)

func writeControlDeadline() time.Time {
	return time.Now().Add(5 * time.Second)
}

func parseDocID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequestResponse(c, "invalid document id")
		return 0, false
	}
	return id, true
}

// HandleSubscribeDoc 升级为 WebSocket 并把文档事件流推给客户端
// 读泵只为探测消费者断开：收到读错误即走与显式 CloseDoc 相同的注销路径
func HandleSubscribeDoc(svc *docs.Service) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return func(c *gin.Context) {
		docID, ok := parseDocID(c)
		if !ok {
			return
		}
		userID := currentUser(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// upgrader 已经写了错误响应
			return
		}

		sub, err := svc.Subscribe(c.Request.Context(), docID, userID)
		if err != nil {
			logger.L().Error("subscribe failed", "doc_id", docID, "user_id", userID, "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
				writeControlDeadline())
			_ = conn.Close()
			return
		}

		go subscriberWritePump(conn, sub)
		go subscriberReadPump(conn, svc, docID, sub.ID(), userID)
	}
}

// subscriberWritePump 把事件通道里的消息编码后写给客户端
// 通道被注册表关闭（注销或文档删除）时发送正常关闭帧
func subscriberWritePump(conn *websocket.Conn, sub *docs.Subscriber) {
	defer conn.Close()
	for ev := range sub.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		writeControlDeadline())
}

// subscriberReadPump 等待传输层报告消费者断开
func subscriberReadPump(conn *websocket.Conn, svc *docs.Service, docID, sessionID int64, userID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			svc.Disconnected(docID, sessionID, userID)
			return
		}
	}
}

// HandleOpenDoc 打开文档，返回元数据、表格页、实时内容和版本号
func HandleOpenDoc(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID, ok := parseDocID(c)
		if !ok {
			return
		}
		res, err := svc.Open(c.Request.Context(), docID)
		if err != nil {
			respondDocsError(c, err)
			return
		}
		successResponse(c, res)
	}
}

type createDocRequest struct {
	Title     string `json:"title" binding:"required"`
	ProjectID int64  `json:"project_id" binding:"required"`
}

// HandleCreateDoc 新建文档并返回与 OpenDoc 相同形状的响应
func HandleCreateDoc(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createDocRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		res, err := svc.Create(c.Request.Context(), req.Title, req.ProjectID, currentUser(c))
		if err != nil {
			respondDocsError(c, err)
			return
		}
		successResponse(c, res)
	}
}

type writeDocRequest struct {
	SessionID int64           `json:"session_id" binding:"required"`
	Changes   docs.ChangeList `json:"changes"`
	Version   uint64          `json:"version"`
}

// HandleWriteDoc 提交一批变更，fire-and-forget，仅回空确认
func HandleWriteDoc(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID, ok := parseDocID(c)
		if !ok {
			return
		}
		var req writeDocRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		svc.Write(c.Request.Context(), docID, req.SessionID, currentUser(c), req.Changes, req.Version)
		successResponse(c, gin.H{})
	}
}

type closeDocRequest struct {
	SessionID int64 `json:"session_id" binding:"required"`
}

// HandleCloseDoc 显式注销调用会话
func HandleCloseDoc(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID, ok := parseDocID(c)
		if !ok {
			return
		}
		var req closeDocRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		svc.Close(docID, req.SessionID, currentUser(c))
		successResponse(c, gin.H{})
	}
}

// HandleRemoveDoc 删除文档，session_id 从查询参数读取
func HandleRemoveDoc(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID, ok := parseDocID(c)
		if !ok {
			return
		}
		sessionID, err := strconv.ParseInt(c.Query("session_id"), 10, 64)
		if err != nil {
			badRequestResponse(c, "invalid session id")
			return
		}
		if err := svc.Remove(c.Request.Context(), docID, sessionID, currentUser(c)); err != nil {
			respondDocsError(c, err)
			return
		}
		successResponse(c, gin.H{})
	}
}

type checksumRequest struct {
	Checksum uint32 `json:"checksum"`
}

// HandleChecksumCheck 用 CRC-32 校验客户端内容与服务端是否一致
func HandleChecksumCheck(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID, ok := parseDocID(c)
		if !ok {
			return
		}
		var req checksumRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		valid, err := svc.Checksum(c.Request.Context(), docID, req.Checksum)
		if err != nil {
			respondDocsError(c, err)
			return
		}
		successResponse(c, gin.H{"valid": valid})
	}
}
