package events

// Gatilho externo de liquidação, publicado no tópico "epoch_triggers".
// Entrega at-least-once: o worker pode receber o mesmo gatilho mais de uma
// vez e conta com o guard de idempotência do orquestrador.
type EpochTrigger struct {
	BeliefID string `json:"belief_id"`
	Epoch    int64  `json:"epoch"`
	Source   string `json:"source,omitempty"` // ex: "epoch-scheduler"
	TsUnixMs int64  `json:"ts_unix_ms"`
}
