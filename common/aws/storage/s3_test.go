package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEvidenceKey(t *testing.T) {
	id := uuid.MustParse("6f1c3c8e-2f3a-4d4b-9a55-0c7f1f1d2e3a")
	ts := time.Date(2026, 3, 4, 23, 59, 0, 0, time.UTC)
	expected := "evidence/2026/03/04/6f1c3c8e-2f3a-4d4b-9a55-0c7f1f1d2e3a"
	if found := evidenceKey(ts, id); found != expected {
		t.Errorf("wrong key: found=%s, expected=%s", found, expected)
	}
}
