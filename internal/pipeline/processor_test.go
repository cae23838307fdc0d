package pipeline

import (
	"context"
	"errors"
	"testing"

	"guptaai/internal/model"
	"guptaai/pkg/tasks"
)

type fakeOCRLogRepo struct {
	entries []model.OCRLog
	err     error
}

func (r *fakeOCRLogRepo) Create(entry *model.OCRLog) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeOCRLogRepo) FindByEmail(string, int) ([]model.OCRLog, error) {
	return r.entries, nil
}

func TestDirectPublisherPersists(t *testing.T) {
	repo := &fakeOCRLogRepo{}
	pub := NewDirectPublisher(NewProcessor(repo))

	err := pub.Publish(context.Background(), tasks.OCRLogTask{ID: "1", Email: " A@X.com", Text: "halo", Time: 42})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(repo.entries))
	}
	got := repo.entries[0]
	if got.Email != "a@x.com" || got.Text != "halo" || got.Time != 42 {
		t.Errorf("entry = %+v", got)
	}
}

func TestProcessDefaultsGuestAndTime(t *testing.T) {
	repo := &fakeOCRLogRepo{}
	if err := NewProcessor(repo).Process(context.Background(), tasks.OCRLogTask{Text: "x"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if repo.entries[0].Email != model.GuestIdentity {
		t.Errorf("email = %q, want guest", repo.entries[0].Email)
	}
	if repo.entries[0].Time == 0 {
		t.Error("missing time should default to now")
	}
}

func TestProcessPropagatesRepositoryError(t *testing.T) {
	repo := &fakeOCRLogRepo{err: errors.New("db down")}
	if err := NewProcessor(repo).Process(context.Background(), tasks.OCRLogTask{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
