package crossref

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIndexDateParsesValidTimestamp(t *testing.T) {
	item := json.RawMessage(`{"indexed":{"date-time":"2024-03-15T10:30:00Z"}}`)

	got, ok := IndexDate(item)
	if !ok {
		t.Fatal("expected IndexDate to parse the indexed date")
	}

	want := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("IndexDate = %v, want %v", got, want)
	}
}

func TestIndexDateMissingFieldReturnsNotOK(t *testing.T) {
	if _, ok := IndexDate(json.RawMessage(`{}`)); ok {
		t.Fatal("expected IndexDate to report not-ok for missing field")
	}

	if _, ok := IndexDate(json.RawMessage(`{"indexed":{"date-time":"not-a-date"}}`)); ok {
		t.Fatal("expected IndexDate to report not-ok for unparseable date")
	}
}
