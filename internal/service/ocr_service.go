package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"guptaai/internal/model"
	"guptaai/internal/pipeline"
	"guptaai/pkg/log"
	"guptaai/pkg/storage"
	"guptaai/pkg/tasks"

	"github.com/google/uuid"
)

var ErrEmptyFile = errors.New("empty file")

// TextExtractor 从图片或文档中提取文本，由 tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName, contentType string) (string, error)
}

// OCRResult 是一次识别的结果。Object 为空表示未启用对象存储。
type OCRResult struct {
	Text   string
	Object string
}

// OCRService 定义了 OCR 识别与日志的业务操作。
type OCRService interface {
	Recognize(ctx context.Context, fileName, contentType string, r io.Reader) (*OCRResult, error)
	Log(ctx context.Context, email, text string, at int64) error
}

type ocrService struct {
	extractor TextExtractor
	objects   storage.ObjectStore
	publisher pipeline.Publisher
}

// NewOCRService 创建一个新的 OCRService 实例，objects 可以为 nil。
func NewOCRService(extractor TextExtractor, objects storage.ObjectStore, publisher pipeline.Publisher) OCRService {
	return &ocrService{extractor: extractor, objects: objects, publisher: publisher}
}

func (s *ocrService) Recognize(ctx context.Context, fileName, contentType string, r io.Reader) (*OCRResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	res := &OCRResult{}
	if s.objects != nil {
		// 原图保存失败不影响识别
		objectName := fmt.Sprintf("ocr/%s/%s%s", time.Now().Format("2006-01-02"), uuid.NewString(), strings.ToLower(filepath.Ext(fileName)))
		if err := s.objects.Put(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			log.Warnw("保存 OCR 原图失败", "object", objectName, "error", err)
		} else {
			res.Object = objectName
		}
	}

	text, err := s.extractor.ExtractText(ctx, bytes.NewReader(data), fileName, contentType)
	if err != nil {
		return nil, fmt.Errorf("OCR 识别失败: %w", err)
	}
	res.Text = text
	return res, nil
}

// Log 投递一条 OCR 日志，email 为空时记为 guest，at 为 0 时使用当前时间。
func (s *ocrService) Log(ctx context.Context, email, text string, at int64) error {
	if text == "" {
		return ErrMissingFields
	}
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	task := tasks.OCRLogTask{
		ID:    uuid.NewString(),
		Email: model.NormalizeIdentity(email),
		Text:  text,
		Time:  at,
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		return fmt.Errorf("投递 OCR 日志失败: %w", err)
	}
	return nil
}
