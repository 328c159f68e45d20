package amqp

import (
	"encoding/json"
	"time"
)

// RatesRefreshedMessage announces that a new rate schedule snapshot was
// stored. Consumers drop their memoized schedule and reload it lazily.
type RatesRefreshedMessage struct {
	Series     string    `json:"series"`
	Records    int       `json:"records"`
	LatestRate string    `json:"latest_rate,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRatesRefreshedMessage creates a message stamped with the current time.
func NewRatesRefreshedMessage(series string, records int, latestRate string, fetchedAt time.Time) *RatesRefreshedMessage {
	return &RatesRefreshedMessage{
		Series:     series,
		Records:    records,
		LatestRate: latestRate,
		FetchedAt:  fetchedAt,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RatesRefreshedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RatesRefreshedMessageFromJSON decodes a message body.
func RatesRefreshedMessageFromJSON(data []byte) (*RatesRefreshedMessage, error) {
	var msg RatesRefreshedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
