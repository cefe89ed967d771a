package dto

type ProcessEpochRequest struct {
	BeliefID string `json:"beliefId"`
	Epoch    int64  `json:"epoch"` // obrigatório; não existe época global implícita
}
