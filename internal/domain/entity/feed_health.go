package entity

import (
	"sort"
	"time"
)

// FeedConfig binds an asset symbol to its price feed index on the ledger.
type FeedConfig struct {
	Symbol    string `yaml:"symbol" json:"symbol"`
	FeedIndex uint64 `yaml:"feedIndex" json:"feedIndex"`
}

// PriceFeedHealth is the health of one price feed as of a single poll.
// Price, Formatted, LastUpdated and HoursSinceUpdate are absent when the check itself failed.
type PriceFeedHealth struct {
	Symbol           string    `json:"symbol"`
	FeedIndex        uint64    `json:"feedIndex"`
	IsHealthy        bool      `json:"isHealthy"`
	Price            *Amount   `json:"price,omitempty"`
	Formatted        string    `json:"formatted,omitempty"`
	LastUpdated      time.Time `json:"lastUpdated,omitzero"`
	HoursSinceUpdate *int64    `json:"hoursSinceUpdate,omitempty"`
	Error            string    `json:"error,omitempty"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// FeedHealthSet maps symbol to feed health. A set is always produced by one
// poll and replaced whole; entries are never merged across polls.
type FeedHealthSet map[string]PriceFeedHealth

// EmergencyState reports whether any feed in the set is unhealthy.
// An empty set is not an emergency.
func EmergencyState(feeds FeedHealthSet) bool {
	for _, f := range feeds {
		if !f.IsHealthy {
			return true
		}
	}
	return false
}

// Unhealthy returns the symbols of unhealthy feeds, sorted.
func (s FeedHealthSet) Unhealthy() []string {
	var out []string
	for symbol, f := range s {
		if !f.IsHealthy {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy of the map.
func (s FeedHealthSet) Clone() FeedHealthSet {
	if s == nil {
		return nil
	}
	out := make(FeedHealthSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
