package model

import "time"

// BrokerConnection is a single brokerage link for an account.
type BrokerConnection struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	AccountNumber   string `json:"account_number"`
	AuthorizationID string `json:"authorization_id"`
	Active          bool   `json:"active"`
}

// Holding is one line of a brokerage holdings snapshot.
type Holding struct {
	Symbol      string `json:"symbol"`
	Qty         int64  `json:"qty"`
	MarketValue int64  `json:"market_value"` // in cents
}

// Position is a follower's exposure in one symbol, derived from holdings.
type Position struct {
	Symbol      string `json:"symbol"`
	Qty         int64  `json:"qty"`
	MarketValue int64  `json:"market_value"` // in cents
}

// Fill is one executed trade from the brokerage activity feed.
type Fill struct {
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Qty      int64     `json:"qty"`
	Price    int64     `json:"price"` // in cents
	FilledAt time.Time `json:"filled_at"`
}
