package server

import (
	"errors"
	"fmt"
	"net/http"

	"plantdoc-server-go/src/capture"
	"plantdoc-server-go/src/classify"
	"plantdoc-server-go/src/pipeline"

	"github.com/gin-gonic/gin"
)

// handleDiagnose 站内一键诊断：采集→提交→异步入库
// 图片从本机采集（拍照命令或相册目录），诊断结果立即返回，历史写入不阻塞响应
func (s *HTTPService) handleDiagnose(c *gin.Context) {
	identity := currentIdentity(c)

	source := pipeline.SourceLibrary
	if c.Query("source") == "camera" {
		source = pipeline.SourceCamera
	}

	handle, err := s.pipeline.Capture(c.Request.Context(), source)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrUserCancelled):
			c.JSON(http.StatusConflict, gin.H{"error": "采集被取消"})
		case errors.Is(err, capture.ErrPermissionDenied):
			c.JSON(http.StatusForbidden, gin.H{"error": "没有访问采集设备或目录的权限"})
		default:
			s.logger.Error(fmt.Sprintf("图片采集失败: %v", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	result, err := s.pipeline.Submit(c.Request.Context(), identity, classify.Request{
		Handle:   handle,
		Model:    c.Query("model_name"),
		Language: c.Query("language"),
	})
	if err != nil {
		s.respondClassifyError(c, err)
		return
	}

	if result.IsRaw() {
		c.JSON(http.StatusOK, gin.H{"response": result.Raw()})
		return
	}

	fields := gin.H{}
	for _, f := range result.Fields() {
		fields[f.Key] = f.Value
	}
	c.JSON(http.StatusOK, fields)
}

// respondClassifyError 把提交客户端的错误映射到HTTP状态码
func (s *HTTPService) respondClassifyError(c *gin.Context, err error) {
	var classErr *classify.ClassificationError
	switch {
	case errors.Is(err, classify.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, classify.ErrImageRead):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, classify.ErrNetworkUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "分类服务不可达"})
	case errors.As(err, &classErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("分类服务返回 %d", classErr.StatusCode)})
	default:
		s.logger.Error(fmt.Sprintf("诊断提交失败: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
