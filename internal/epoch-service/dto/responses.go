package dto

import "time"

type ProcessEpochResponse struct {
	BeliefID               string             `json:"belief_id"`
	Epoch                  int64              `json:"epoch"`
	ParticipantCount       int                `json:"participant_count"`
	Aggregate              float64            `json:"aggregate"`
	Certainty              float64            `json:"certainty"`
	DisagreementEntropy    float64            `json:"disagreement_entropy"`
	RedistributionOccurred bool               `json:"redistribution_occurred"`
	SlashingPool           float64            `json:"slashing_pool"`
	IndividualRewards      map[string]float64 `json:"individual_rewards"`
	IndividualSlashes      map[string]float64 `json:"individual_slashes"`
	Skipped                bool               `json:"skipped"`
}

type ConsensusResponse struct {
	BeliefID            string    `json:"belief_id"`
	Epoch               int64     `json:"epoch"`
	Aggregate           float64   `json:"aggregate"`
	Certainty           float64   `json:"certainty"`
	DisagreementEntropy float64   `json:"disagreement_entropy,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type HistoryEntry struct {
	Epoch               int64     `json:"epoch"`
	Aggregate           float64   `json:"aggregate"`
	Certainty           float64   `json:"certainty"`
	DisagreementEntropy float64   `json:"disagreement_entropy"`
	RecordedAt          time.Time `json:"recorded_at"`
}
