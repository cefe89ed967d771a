package engine

import "errors"

// Taxonomia de erros do motor. Fatais abortam antes de qualquer escrita
// durável; o chamador decide re-invocar (não há retry implícito aqui).
var (
	ErrValidation               = errors.New("validation error")
	ErrNotFound                 = errors.New("belief not found")
	ErrInsufficientParticipants = errors.New("insufficient participants")
	ErrAggregationFailure       = errors.New("aggregation failure")
	ErrPersistence              = errors.New("persistence error")

	// ErrLockContention é retryable: outro escritor segura o lock por agente.
	ErrLockContention = errors.New("lock contention")
)
