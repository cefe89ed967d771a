package dto

type WeightResponse struct {
	AgentID  string  `json:"agentId"`
	BeliefID string  `json:"beliefId"`
	Weight   float64 `json:"weight"`
}

type StakeResponse struct {
	AgentID    string  `json:"agentId"`
	TotalStake float64 `json:"total_stake"`
}
