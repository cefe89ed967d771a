package topics

const (
	// Liquidação de épocas
	EpochTriggers = "epoch_triggers"
	EpochSettled  = "epoch_settled"

	// DLQs
	EpochTriggersDLQ = "epoch_triggers_dlq"
)
