package events

import "time"

// Payload gravado no cache Redis e difundido via pub/sub a cada commit.
type ConsensusUpdate struct {
	BeliefID            string    `json:"belief_id"`
	Epoch               int64     `json:"epoch"`
	Aggregate           float64   `json:"aggregate"`
	Certainty           float64   `json:"certainty"`
	DisagreementEntropy float64   `json:"disagreement_entropy"`
	UpdatedAt           time.Time `json:"updated_at"`
}
