package handler

import (
	"errors"
	"net/http"

	"guptaai/internal/service"
	"guptaai/pkg/log"

	"github.com/gin-gonic/gin"
)

// OCRHandler 负责图片文字识别以及识别结果的日志。
type OCRHandler struct {
	ocrService     service.OCRService
	maxUploadBytes int64
}

// NewOCRHandler 创建一个新的 OCRHandler。
func NewOCRHandler(ocrService service.OCRService, maxUploadBytes int64) *OCRHandler {
	return &OCRHandler{ocrService: ocrService, maxUploadBytes: maxUploadBytes}
}

// OCRLogRequest 定义了 OCR 日志 API 的请求体结构。
type OCRLogRequest struct {
	Email string `json:"email"`
	Text  string `json:"text"`
	Time  int64  `json:"time"`
}

// Recognize 处理 POST /api/ocr，表单字段为 file。
func (h *OCRHandler) Recognize(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file tidak ditemukan")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Recognize: 打开上传文件失败", err)
		fail(c, http.StatusInternalServerError, "gagal OCR")
		return
	}
	defer file.Close()

	res, err := h.ocrService.Recognize(c.Request.Context(), fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file)
	if err != nil {
		if errors.Is(err, service.ErrEmptyFile) {
			fail(c, http.StatusBadRequest, "file tidak ditemukan")
			return
		}
		log.Errorw("OCR 失败", "file", fileHeader.Filename, "error", err)
		fail(c, http.StatusInternalServerError, "gagal OCR")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"text":    res.Text,
		"data":    gin.H{"text": res.Text, "object": res.Object},
	})
}

// Log 处理 POST /api/ocr-log
func (h *OCRHandler) Log(c *gin.Context) {
	var req OCRLogRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		fail(c, http.StatusBadRequest, "text wajib diisi")
		return
	}
	if err := h.ocrService.Log(c.Request.Context(), req.Email, req.Text, req.Time); err != nil {
		log.Error("OCR log 保存失败", err)
		fail(c, http.StatusInternalServerError, "gagal simpan log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "ok": true})
}
