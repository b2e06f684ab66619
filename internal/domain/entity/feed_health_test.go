package entity

import (
	"encoding/json"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEmergencyState(t *testing.T) {
	tests := []struct {
		name  string
		feeds FeedHealthSet
		want  bool
	}{
		{
			name: "one unhealthy feed",
			feeds: FeedHealthSet{
				"USDC": {Symbol: "USDC", IsHealthy: true},
				"ETH":  {Symbol: "ETH", IsHealthy: false},
				"BTC":  {Symbol: "BTC", IsHealthy: true},
			},
			want: true,
		},
		{
			name: "all healthy",
			feeds: FeedHealthSet{
				"USDC": {Symbol: "USDC", IsHealthy: true},
				"ETH":  {Symbol: "ETH", IsHealthy: true},
				"BTC":  {Symbol: "BTC", IsHealthy: true},
			},
			want: false,
		},
		{name: "empty", feeds: FeedHealthSet{}, want: false},
		{name: "nil", feeds: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EmergencyState(tt.feeds); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFeedHealthSet_Unhealthy(t *testing.T) {
	feeds := FeedHealthSet{
		"USDC": {IsHealthy: true},
		"ETH":  {IsHealthy: false},
		"BTC":  {IsHealthy: false},
	}
	want := []string{"BTC", "ETH"}
	if got := feeds.Unhealthy(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAccountSnapshot_EmergencyModeFollowsFeeds(t *testing.T) {
	snap := &AccountSnapshot{Feeds: FeedHealthSet{"ETH": {IsHealthy: true}}}
	if snap.EmergencyMode() {
		t.Fatal("expected no emergency with healthy feeds")
	}

	next := snap.Clone()
	next.Feeds["ETH"] = PriceFeedHealth{IsHealthy: false}
	if !next.EmergencyMode() {
		t.Error("expected emergency after feed turned unhealthy")
	}
	if snap.EmergencyMode() {
		t.Error("clone mutation leaked into the original snapshot")
	}
}

func TestPriceFeedHealth_JSONOmitsMissingNumbers(t *testing.T) {
	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failed := PriceFeedHealth{Symbol: "ETH", FeedIndex: 1, Error: "Unable to reach the network, please try again", CheckedAt: checked}

	data, err := json.Marshal(failed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{"price", "formatted", "lastUpdated", "hoursSinceUpdate"} {
		if strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("expected %s omitted for a failed check, got %s", field, data)
		}
	}

	price := NewAmount(big.NewInt(250_000_000_000), PriceDecimals)
	zero := int64(0)
	fresh := PriceFeedHealth{Symbol: "ETH", IsHealthy: true, Price: &price, LastUpdated: checked, HoursSinceUpdate: &zero, CheckedAt: checked}

	data, err = json.Marshal(fresh)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"hoursSinceUpdate":0`) {
		t.Errorf("expected hoursSinceUpdate 0 for a fresh feed, got %s", data)
	}
	if !strings.Contains(string(data), `"lastUpdated":"2026-03-01T12:00:00Z"`) {
		t.Errorf("expected lastUpdated, got %s", data)
	}
}
