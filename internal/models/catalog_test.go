package models

import (
	"testing"
	"time"
)

func TestDecodeCatalogEvent(t *testing.T) {
	body := []byte(`{"owner_id":"u1","event_type":"PRODUCT_UPSERTED","entity_id":"p1","sequence":7,"emitted_at":"2024-06-01T12:00:00Z"}`)
	ev, err := DecodeCatalogEvent(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.OwnerID != "u1" || ev.Type != ProductUpserted || ev.EntityID != "p1" || ev.Sequence != 7 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.EmittedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected emitted_at: %v", ev.EmittedAt)
	}
}

func TestDecodeCatalogEvent_Rejects(t *testing.T) {
	cases := map[string]string{
		"malformed json":     `{not json`,
		"missing owner":      `{"event_type":"PRODUCT_UPSERTED","entity_id":"p1","sequence":1}`,
		"unknown event type": `{"owner_id":"u1","event_type":"SOMETHING_ELSE","entity_id":"p1","sequence":1}`,
	}
	for name, body := range cases {
		if _, err := DecodeCatalogEvent([]byte(body)); err == nil {
			t.Errorf("%s: expected decode error", name)
		}
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, typ := range []EventType{ProductUpserted, ProductDeleted, CategoryUpserted, CategoryDeleted} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if EventType("PRODUCT_RENAMED").Valid() {
		t.Error("unknown type reported valid")
	}
}
