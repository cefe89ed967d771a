package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// mockStore implementa BeliefStore, SubmissionStore, PositionStore e
// Committer em memória, com a mesma semântica do repo Postgres: commit tudo
// ou nada e piso de stake por agente.
type mockStore struct {
	beliefs   map[string]*Belief
	reports   map[string]map[string]Report // beliefID -> agente -> report
	activeBy  map[int64][]string
	notionals map[string]float64
	stakes    map[string]float64

	events        []mockEvent
	history       []mockHistory
	commits       int
	failCommit    bool
	lockContended bool
}

type mockEvent struct {
	AgentID  string
	BeliefID string
	Epoch    int64
	Delta    float64
}

type mockHistory struct {
	BeliefID  string
	Epoch     int64
	Aggregate float64
	Certainty float64
}

func newMockStore() *mockStore {
	return &mockStore{
		beliefs:   make(map[string]*Belief),
		reports:   make(map[string]map[string]Report),
		activeBy:  make(map[int64][]string),
		notionals: make(map[string]float64),
		stakes:    make(map[string]float64),
	}
}

func (m *mockStore) GetBelief(_ context.Context, beliefID string) (*Belief, error) {
	b, ok := m.beliefs[beliefID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) BeliefExists(_ context.Context, beliefID string) (bool, error) {
	_, ok := m.beliefs[beliefID]
	return ok, nil
}

func (m *mockStore) LastTradeNotionals(_ context.Context, _ string) (map[string]float64, error) {
	out := make(map[string]float64, len(m.notionals))
	for id, n := range m.notionals {
		out[id] = n
	}
	return out, nil
}

func (m *mockStore) LatestByAgent(_ context.Context, beliefID string) (map[string]Report, error) {
	out := make(map[string]Report, len(m.reports[beliefID]))
	for id, r := range m.reports[beliefID] {
		out[id] = r
	}
	return out, nil
}

func (m *mockStore) ActiveAgents(_ context.Context, _ string, epoch int64) ([]string, error) {
	return m.activeBy[epoch], nil
}

func (m *mockStore) CommitEpochTransition(_ context.Context, t *EpochTransition) (map[string]float64, error) {
	if m.lockContended {
		// outro escritor (trade-time) segura o advisory lock do agente
		return nil, fmt.Errorf("%w: agent busy", ErrLockContention)
	}
	if m.failCommit {
		// simula rollback: nenhuma mutação parcial fica visível
		return nil, errors.New("ledger write failed mid-batch")
	}

	b, ok := m.beliefs[t.BeliefID]
	if !ok || b.LastProcessedEpoch >= t.Epoch {
		return nil, errors.New("epoch already advanced")
	}

	applied := make(map[string]float64, len(t.StakeDeltas))
	for agentID, delta := range t.StakeDeltas {
		stake := m.stakes[agentID]
		if delta < -stake {
			delta = -stake
		}
		applied[agentID] = delta
		m.stakes[agentID] = stake + delta
		m.events = append(m.events, mockEvent{AgentID: agentID, BeliefID: t.BeliefID, Epoch: t.Epoch, Delta: delta})
	}

	b.PreviousAggregate = t.Aggregate
	b.Certainty = t.Certainty
	b.LastProcessedEpoch = t.Epoch
	b.UpdatedAt = time.Now()
	m.history = append(m.history, mockHistory{BeliefID: t.BeliefID, Epoch: t.Epoch, Aggregate: t.Aggregate, Certainty: t.Certainty})
	m.commits++
	return applied, nil
}
