package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type fakeExtractor struct {
	text     string
	err      error
	gotBody  string
	gotName  string
	gotMIME  string
	numCalls int
}

func (f *fakeExtractor) ExtractText(_ context.Context, r io.Reader, name, mime string) (string, error) {
	b, _ := io.ReadAll(r)
	f.gotBody, f.gotName, f.gotMIME = string(b), name, mime
	f.numCalls++
	return f.text, f.err
}

type fakeObjectStore struct {
	objects map[string]string
	err     error
}

func (s *fakeObjectStore) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	if s.err != nil {
		return s.err
	}
	b, _ := io.ReadAll(r)
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[name] = string(b)
	return nil
}

func (s *fakeObjectStore) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func TestRecognizeStoresAndExtracts(t *testing.T) {
	ex := &fakeExtractor{text: "Halo"}
	objects := &fakeObjectStore{}
	svc := NewOCRService(ex, objects, &fakePublisher{})

	res, err := svc.Recognize(context.Background(), "Scan.PNG", "image/png", strings.NewReader("img"))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if res.Text != "Halo" || ex.gotBody != "img" || ex.gotName != "Scan.PNG" {
		t.Errorf("res = %+v, extractor got %q %q", res, ex.gotBody, ex.gotName)
	}
	if !strings.HasPrefix(res.Object, "ocr/") || !strings.HasSuffix(res.Object, ".png") {
		t.Errorf("object = %q", res.Object)
	}
	if objects.objects[res.Object] != "img" {
		t.Error("original image should be stored")
	}
}

func TestRecognizeStorageFailureIsNotFatal(t *testing.T) {
	svc := NewOCRService(&fakeExtractor{text: "ok"}, &fakeObjectStore{err: errUpstream}, &fakePublisher{})
	res, err := svc.Recognize(context.Background(), "a.jpg", "image/jpeg", strings.NewReader("img"))
	if err != nil || res.Text != "ok" || res.Object != "" {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
}

func TestRecognizeErrors(t *testing.T) {
	ex := &fakeExtractor{err: errUpstream}
	svc := NewOCRService(ex, nil, &fakePublisher{})

	if _, err := svc.Recognize(context.Background(), "a.png", "", strings.NewReader("")); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("empty file: err = %v", err)
	}
	if ex.numCalls != 0 {
		t.Error("extractor must not be called for an empty file")
	}
	if _, err := svc.Recognize(context.Background(), "a.png", "", strings.NewReader("x")); !errors.Is(err, errUpstream) {
		t.Errorf("extractor failure: err = %v", err)
	}
}

func TestOCRLog(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewOCRService(&fakeExtractor{}, nil, pub)
	ctx := context.Background()

	if err := svc.Log(ctx, "", "teks", 0); err != nil {
		t.Fatalf("Log: %v", err)
	}
	task := pub.tasks[0]
	if task.Email != "guest" || task.Text != "teks" || task.Time == 0 || task.ID == "" {
		t.Errorf("task = %+v", task)
	}
	if err := svc.Log(ctx, "a@x.com", "", 5); !errors.Is(err, ErrMissingFields) {
		t.Errorf("missing text: err = %v", err)
	}
	pub.err = errUpstream
	if err := svc.Log(ctx, "a@x.com", "x", 5); !errors.Is(err, errUpstream) {
		t.Errorf("publish failure: err = %v", err)
	}
}
