package dto

type TradeRequest struct {
	AgentID     string  `json:"agentId"`
	BeliefID    string  `json:"beliefId"`
	Notional    float64 `json:"notional"`
	ExternalRef string  `json:"external_ref,omitempty"` // ex: tradeId
}

type ClosePositionRequest struct {
	AgentID  string `json:"agentId"`
	BeliefID string `json:"beliefId"`
}

type StakeDeltaRequest struct {
	AgentID     string  `json:"agentId"`
	Delta       float64 `json:"delta"`
	ExternalRef string  `json:"external_ref"`
}
