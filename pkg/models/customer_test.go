package models

import (
	"encoding/json"
	"testing"
)

func TestToCustomerDefaults(t *testing.T) {
	var doc CustomerDoc
	if err := json.Unmarshal([]byte(`{"userId":"U1234567890","unreadCount":"bad","notes":null}`), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c := doc.ToCustomer()
	if c.Name != "ลูกค้า U1234567" {
		t.Fatalf("unexpected default name %q", c.Name)
	}
	if c.DisplayName != c.Name {
		t.Fatalf("displayName should fall back to name, got %q", c.DisplayName)
	}
	if c.CaseStatus != CaseStatusPending || c.Status != CaseStatusPending {
		t.Fatalf("expected pending status, got %q/%q", c.CaseStatus, c.Status)
	}
	if c.UnreadCount != 0 || c.Notes != "" {
		t.Fatalf("wrongly typed fields should zero out: %+v", c)
	}
	if c.LineOAID != DefaultLineOAID || c.LineOAName != DefaultLineOAName {
		t.Fatalf("expected OA defaults, got %q/%q", c.LineOAID, c.LineOAName)
	}
	if !c.LastMessageAt().IsZero() {
		t.Fatalf("expected zero last message time")
	}
}

func TestToCustomerPrefersStoredValues(t *testing.T) {
	doc := CustomerDoc{}
	if err := doc.Merge(Patch{
		"userId":      "U1",
		"displayName": "Somchai",
		"caseStatus":  CaseStatusActive,
		"pictureUrl":  "https://example/p.png",
		"version":     3,
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	c := doc.ToCustomer()
	if c.Name != "Somchai" {
		t.Fatalf("name should fall back to displayName, got %q", c.Name)
	}
	if c.Status != CaseStatusActive {
		t.Fatalf("status should mirror caseStatus, got %q", c.Status)
	}
	if c.Avatar != "https://example/p.png" {
		t.Fatalf("avatar should mirror pictureUrl, got %q", c.Avatar)
	}
	if c.Version != 3 {
		t.Fatalf("expected version 3 got %d", c.Version)
	}
}

func TestMergeRejectsUnencodable(t *testing.T) {
	doc := CustomerDoc{}
	if err := doc.Merge(Patch{"bad": make(chan int)}); err == nil {
		t.Fatalf("expected encode error")
	}
}
