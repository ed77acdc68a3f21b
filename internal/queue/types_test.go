package queue

import (
	"testing"
	"time"
)

func TestItemEligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"queued without delay", Item{Status: StatusQueued}, true},
		{"queued with elapsed delay", Item{Status: StatusQueued, NextRetryAt: now.Add(-time.Second)}, true},
		{"queued with exact delay", Item{Status: StatusQueued, NextRetryAt: now}, true},
		{"queued with pending delay", Item{Status: StatusQueued, NextRetryAt: now.Add(time.Second)}, false},
		{"processing", Item{Status: StatusProcessing}, false},
		{"done", Item{Status: StatusDone}, false},
		{"error", Item{Status: StatusError}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.item.Eligible(now); got != tt.want {
				t.Fatalf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestItemHasMediaURL(t *testing.T) {
	t.Parallel()

	if (Item{}).HasMediaURL() {
		t.Fatalf("empty item must not report a media url")
	}
	if !(Item{MediaURL: "https://cdn.example/a.pdf"}).HasMediaURL() {
		t.Fatalf("item with url must report it")
	}
}
