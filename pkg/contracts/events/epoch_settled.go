package events

import "time"

// Evento emitido pelo epoch-trigger-worker após liquidar uma época.
type EpochSettled struct {
	BeliefID               string    `json:"beliefId"`
	Epoch                  int64     `json:"epoch"`
	Aggregate              float64   `json:"aggregate"`
	Certainty              float64   `json:"certainty"`
	ParticipantCount       int       `json:"participantCount"`
	RedistributionOccurred bool      `json:"redistributionOccurred"`
	Skipped                bool      `json:"skipped"`
	Ts                     time.Time `json:"ts"`
}
