package server

import (
	"fmt"
	"net/http"
	"time"

	"plantdoc-server-go/src/history"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// liveMessage 推送给客户端的一次完整快照
type liveMessage struct {
	Records []gin.H `json:"records"`
	Error   string  `json:"error,omitempty"` // 非致命降级指示
}

// handleHistoryLive 历史记录的websocket实时通道
// 连接期间独占一个存储订阅，断开时必须释放
// 浏览器websocket不便携带自定义头，令牌也接受token查询参数
func (s *HTTPService) handleHistoryLive(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}

	identity, err := s.authenticate(authHeader)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的认证token或token已过期"})
		return
	}

	sub, err := s.store.Subscribe(identity.Key())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Release()
		s.logger.Warn(fmt.Sprintf("websocket升级失败: %v", err))
		return
	}

	s.logger.Info(fmt.Sprintf("历史实时通道已建立: %s", identity.Key()))

	// 读循环只为感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Release()
		conn.Close()
		s.logger.Info(fmt.Sprintf("历史实时通道已关闭: %s", identity.Key()))
	}()

	for {
		select {
		case <-done:
			return
		case delivery, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := s.pushDelivery(conn, delivery); err != nil {
				s.logger.Warn(fmt.Sprintf("推送历史快照失败: %v", err))
				return
			}
		}
	}
}

// pushDelivery 把一次投递序列化后推给客户端
func (s *HTTPService) pushDelivery(conn *websocket.Conn, delivery history.Delivery) error {
	message := liveMessage{Records: make([]gin.H, 0, len(delivery.Records))}
	if delivery.Err != nil {
		message.Error = delivery.Err.Error()
	}

	summary := history.Summary(delivery.Records)
	for i, record := range delivery.Records {
		message.Records = append(message.Records, gin.H{
			"index":      summary[i].Index,
			"title":      summary[i].Title,
			"detail":     history.Detail(record),
			"model":      record.Model,
			"language":   record.Language,
			"created_at": record.CreatedAt,
		})
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(message)
}
