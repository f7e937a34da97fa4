package integrity

import (
	"testing"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

func TestResourceID_OrderIndependent(t *testing.T) {
	a := map[string]any{}
	a["service.name"] = "svc"
	a["host.name"] = "h1"
	a["deployment.environment"] = "prod"

	b := map[string]any{}
	b["deployment.environment"] = "prod"
	b["service.name"] = "svc"
	b["host.name"] = "h1"

	idA, err := ResourceID(a)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := ResourceID(b)
	if err != nil {
		t.Fatal(err)
	}
	if idA != idB {
		t.Fatalf("resource id depends on key order: %q != %q", idA, idB)
	}
	if len(idA) != 64 {
		t.Fatalf("expected 64-char hex SHA-256, got %d chars", len(idA))
	}
}

func TestResourceID_IgnoresInternalKeys(t *testing.T) {
	plain, _ := ResourceID(map[string]any{"service.name": "svc"})
	tagged, _ := ResourceID(map[string]any{"service.name": "svc", "ag.refs.application.slug": "app"})
	if plain != tagged {
		t.Fatal("ag.* resource attributes must not affect the resource id")
	}

	other, _ := ResourceID(map[string]any{"service.name": "other"})
	if plain == other {
		t.Fatal("different resources should produce different ids")
	}
}

func TestSpanHashes(t *testing.T) {
	attrs := map[string]any{"ag": map[string]any{"type": map[string]any{"node": "chat"}}}
	events := []model.SpanEvent{{Name: "e", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}}

	h1, err := SpanHashes(attrs, events, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := SpanHashes(attrs, events, nil)
	if len(h1) != 4 {
		t.Fatalf("expected 4 hashes, got %d", len(h1))
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Fatalf("hash %s not deterministic", h1[i].Scope)
		}
	}

	h3, _ := SpanHashes(attrs, nil, nil)
	if h1[1].Value == h3[1].Value || h1[3].Value == h3[3].Value {
		t.Fatal("changing events should change the events and span hashes")
	}
	if h1[0].Value != h3[0].Value {
		t.Fatal("attributes hash should not depend on events")
	}
}

func TestBuildMerkleRoot(t *testing.T) {
	if BuildMerkleRoot(nil) != "" {
		t.Fatal("empty leaves should produce empty root")
	}
	if BuildMerkleRoot([]string{"a"}) != "a" {
		t.Fatal("single leaf should be its own root")
	}
	if BuildMerkleRoot([]string{"a", "b", "c"}) != hashPair(hashPair("a", "b"), hashPair("c", "c")) {
		t.Fatal("odd level should pair the last node with itself")
	}
}
