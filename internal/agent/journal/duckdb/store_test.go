package duckdb

import (
	"context"
	"testing"
	"time"

	"tokenwatch/pkg/model"
)

func TestStore_InsertAndRecent(t *testing.T) {
	s, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(30 * time.Minute)

	entries := []*model.JournalEntry{
		{ID: "e1", Kind: model.EventAcquired, SystemID: "data_platform", SystemName: "数据平台", OccurredAt: now,
			ExpiresAt: &expires, SourceURL: "http://data.example.com/api/query", Fingerprint: "0011aabb"},
		{ID: "e2", Kind: model.EventFailed, SystemID: "governance", SystemName: "治理平台", OccurredAt: now.Add(time.Second),
			Error: "长度不足 11"},
		{ID: "e3", Kind: model.EventExpired, SystemID: "data_platform", SystemName: "数据平台", OccurredAt: now.Add(2 * time.Second),
			ExpiresAt: &expires},
	}
	for _, e := range entries {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := s.Insert(ctx, nil); err == nil {
		t.Error("Insert(nil) must fail")
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(all))
	}
	if all[0].ID != "e3" || all[2].ID != "e1" {
		t.Errorf("Expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	dp, err := s.Recent(ctx, "data_platform", 10)
	if err != nil {
		t.Fatalf("Recent(data_platform) failed: %v", err)
	}
	if len(dp) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(dp))
	}
	acq := dp[1]
	if acq.Kind != model.EventAcquired || acq.Fingerprint != "0011aabb" || acq.SourceURL != "http://data.example.com/api/query" {
		t.Errorf("unexpected entry %+v", acq)
	}
	if acq.ExpiresAt == nil || !acq.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v; want %v", acq.ExpiresAt, expires)
	}
	if !acq.OccurredAt.Equal(now) {
		t.Errorf("OccurredAt = %v; want %v", acq.OccurredAt, now)
	}

	gov, err := s.Recent(ctx, "governance", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(gov) != 1 || gov[0].ExpiresAt != nil || gov[0].Error == "" {
		t.Errorf("unexpected failed entry %+v", gov)
	}

	limited, err := s.Recent(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit 1, got %d", len(limited))
	}
}
