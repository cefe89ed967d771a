package repo

import "time"

// HistoryRecord é a linha append-only de belief_history (analytics externo).
type HistoryRecord struct {
	ID                  string
	BeliefID            string
	Epoch               int64
	Aggregate           float64
	Certainty           float64
	DisagreementEntropy float64
	RecordedAt          time.Time
}

// RedistributionEvent é a trilha de auditoria imutável: um por agente
// afetado por belief-época, com o delta efetivamente aplicado.
type RedistributionEvent struct {
	ID         string
	AgentID    string
	BeliefID   string
	Epoch      int64
	StakeDelta float64
	CreatedAt  time.Time
}
