package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/store"
)

type fakeSnapshotStore struct {
	inserted   int
	advanced   []int64
	advanceErr error
}

func (f *fakeSnapshotStore) InsertSnapshot(ctx context.Context, ownerID string, generatedAt time.Time, productCount int, payload []byte) (int64, error) {
	f.inserted++
	return int64(f.inserted), nil
}

func (f *fakeSnapshotStore) AdvanceLatest(ctx context.Context, ownerID string, version int64) error {
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advanced = append(f.advanced, version)
	return nil
}

func TestPublish_WritesSnapshotThenAdvancesPointer(t *testing.T) {
	st := &fakeSnapshotStore{}
	pub := NewPublisher(st)

	doc := models.CatalogDocument{OwnerID: "u1", GeneratedAt: time.Now().UTC()}
	v, err := pub.Publish(context.Background(), doc)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
	if len(st.advanced) != 1 || st.advanced[0] != 1 {
		t.Fatalf("pointer not advanced to 1: %+v", st.advanced)
	}

	if _, err := pub.Publish(context.Background(), doc); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if st.advanced[len(st.advanced)-1] != 2 {
		t.Fatalf("pointer must follow versions upward: %+v", st.advanced)
	}
}

func TestPublish_SurfacesVersionRegression(t *testing.T) {
	st := &fakeSnapshotStore{advanceErr: store.ErrVersionRegression}
	pub := NewPublisher(st)

	_, err := pub.Publish(context.Background(), models.CatalogDocument{OwnerID: "u1", GeneratedAt: time.Now().UTC()})
	if !errors.Is(err, store.ErrVersionRegression) {
		t.Fatalf("expected ErrVersionRegression, got %v", err)
	}
}
