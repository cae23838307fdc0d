package handler

import (
	"errors"
	"net/http"

	"guptaai/internal/config"
	"guptaai/internal/service"
	"guptaai/pkg/log"

	"github.com/gin-gonic/gin"
)

// CatalogHandler 提供模型与人设列表，以及管理员修改人设提示词。
type CatalogHandler struct {
	personaService service.PersonaService
	models         []config.ModelOption
	defaultModel   string
	defaultPersona string
}

// NewCatalogHandler 创建一个新的 CatalogHandler。
func NewCatalogHandler(personaService service.PersonaService, llmCfg config.LLMConfig, chatCfg config.ChatConfig) *CatalogHandler {
	return &CatalogHandler{
		personaService: personaService,
		models:         llmCfg.Models,
		defaultModel:   llmCfg.Model,
		defaultPersona: chatCfg.DefaultPersona,
	}
}

// UpdatePersonaRequest 定义了修改人设 API 的请求体结构。
type UpdatePersonaRequest struct {
	ID     string `json:"id" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// Ping 健康检查。
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListModels 返回可选模型。
func (h *CatalogHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"default": h.defaultModel, "models": h.models},
	})
}

// ListPersonas 返回人设列表（已应用管理员覆盖）。
func (h *CatalogHandler) ListPersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"default": h.defaultPersona, "personas": h.personaService.List(c.Request.Context())},
	})
}

// UpdatePersona 覆盖某个人设的提示词，需要管理员权限。
func (h *CatalogHandler) UpdatePersona(c *gin.Context) {
	var req UpdatePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Data tidak lengkap")
		return
	}
	if err := h.personaService.SetOverride(c.Request.Context(), req.ID, req.Prompt); err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownPersona):
			fail(c, http.StatusNotFound, "Persona tidak ditemukan")
			return
		case errors.Is(err, service.ErrMissingFields):
			fail(c, http.StatusBadRequest, "Data tidak lengkap")
			return
		}
		log.Error("修改人设失败", err)
		fail(c, http.StatusInternalServerError, "Gagal menyimpan persona")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
