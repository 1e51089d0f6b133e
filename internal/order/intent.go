// Package order carries approved actions to the execution collaborator.
// The core assumes nothing about synchronous fills; outcomes come back
// later through the outcome feed.
package order

import (
	"time"

	"adaptive-trader/internal/policy"
)

// Intent is an approved action handed to execution.
type Intent struct {
	ID            string        `json:"id"`
	Action        policy.Action `json:"action"`
	PolicyVersion uint64        `json:"policy_version"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Fill reports an executed intent.
type Fill struct {
	IntentID  string    `json:"intent_id"`
	Symbol    string    `json:"symbol"`
	Position  float64   `json:"position"` // resulting signed position
	FillPrice float64   `json:"fill_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Executor receives approved intents.
type Executor interface {
	Submit(intent Intent) error
}
