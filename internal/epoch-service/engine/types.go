package engine

import "time"

// Report é o par (crença, meta-predição) mais recente de um agente para um belief.
// Valores sempre em [0,1]; validados na borda (submission store).
type Report struct {
	Belief         float64
	MetaPrediction float64
}

// Belief é o modelo lido/gravado pelo orquestrador.
type Belief struct {
	ID                 string
	PreviousAggregate  float64
	Certainty          float64
	LastProcessedEpoch int64
	ExpirationEpoch    int64 // 0 = sem expiração
	UpdatedAt          time.Time
}

// State representa o estado da máquina de processamento de época.
type State string

const (
	StatePending         State = "PENDING"
	StateWeightsResolved State = "WEIGHTS_RESOLVED"
	StateAggregated      State = "AGGREGATED"
	StateScored          State = "SCORED"
	StateRedistributed   State = "REDISTRIBUTED"
	StateCommitted       State = "COMMITTED"
	StateSkipped         State = "SKIPPED"
	StateFailed          State = "FAILED"
)

// EpochTransition é a unidade lógica persistida de forma atômica no final do
// caminho feliz: atualização do belief, registro de histórico e todos os
// deltas de stake daquele belief-época.
type EpochTransition struct {
	BeliefID            string
	Epoch               int64
	Aggregate           float64
	Certainty           float64
	DisagreementEntropy float64
	// Deltas solicitados por agente. O committer aplica o piso de stake
	// (nunca negativo) e devolve os deltas efetivamente aplicados.
	StakeDeltas map[string]float64
}

// Result é a resposta externa de process_epoch.
type Result struct {
	BeliefID               string             `json:"belief_id"`
	Epoch                  int64              `json:"epoch"`
	State                  State              `json:"state"`
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
