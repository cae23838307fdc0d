package handler

import (
	"errors"
	"net/http"

	"guptaai/internal/middleware"
	"guptaai/internal/model"
	"guptaai/internal/repository"
	"guptaai/internal/service"
	"guptaai/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HistoryHandler 提供服务端账号归档的读写，需要挂在 OptionalAuth 之后。
type HistoryHandler struct {
	historyService service.HistoryService
	tabService     service.TabService
}

// NewHistoryHandler 创建一个新的 HistoryHandler。
func NewHistoryHandler(historyService service.HistoryService, tabService service.TabService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService, tabService: tabService}
}

// SaveHistoryRequest 定义了保存历史 API 的请求体结构。
type SaveHistoryRequest struct {
	Email    string             `json:"email"`
	Device   string             `json:"device"`
	Messages model.Conversation `json:"messages"`
}

// GetHistory 处理 GET /api/history?email=&device=
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	account, ok := h.authorize(c, c.Query("email"), c.Query("device"))
	if !ok {
		return
	}
	conv := h.historyService.Get(c.Request.Context(), account)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"email": account, "messages": conv},
	})
}

// SaveHistory 处理 POST /api/history
func (h *HistoryHandler) SaveHistory(c *gin.Context) {
	var req SaveHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Data tidak lengkap")
		return
	}
	account, ok := h.authorize(c, req.Email, req.Device)
	if !ok {
		return
	}

	if err := h.historyService.Save(c.Request.Context(), account, req.Messages); err != nil {
		if errors.Is(err, repository.ErrPayloadTooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "Riwayat terlalu besar")
			return
		}
		log.Errorw("保存历史失败", "account", account, "error", err)
		fail(c, http.StatusInternalServerError, "Gagal menyimpan riwayat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "ok": true})
}

// DeleteHistory 处理 DELETE /api/history?email=&device=，同时清空该账号已打开的标签页。
func (h *HistoryHandler) DeleteHistory(c *gin.Context) {
	account, ok := h.authorize(c, c.Query("email"), c.Query("device"))
	if !ok {
		return
	}
	if err := h.historyService.Delete(c.Request.Context(), account); err != nil {
		log.Errorw("删除历史失败", "account", account, "error", err)
		fail(c, http.StatusInternalServerError, "Gagal menghapus riwayat")
		return
	}
	h.tabService.ResetAccount(c.Request.Context(), account)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "ok": true})
}

// authorize 返回规范化后的账号身份。访客不需要 token，但必须带上
// POST /api/tabs 发给浏览器的设备 ID；其他账号必须携带属于该邮箱的 access token。
func (h *HistoryHandler) authorize(c *gin.Context, email, device string) (string, bool) {
	account := model.NormalizeIdentity(email)
	if model.IsGuest(account) {
		id, ok := parseDevice(device)
		if !ok {
			fail(c, http.StatusBadRequest, "device tidak valid")
			return "", false
		}
		return model.GuestFor(id), true
	}
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Silakan login terlebih dahulu")
		return "", false
	}
	if model.NormalizeIdentity(claims.Email) != account {
		fail(c, http.StatusForbidden, "Tidak boleh mengakses riwayat akun lain")
		return "", false
	}
	return account, true
}

// parseDevice 校验浏览器设备 ID 并转成规范形式。
func parseDevice(raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
