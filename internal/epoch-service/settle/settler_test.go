package settle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/engine"
	"github.com/beliefmkt/belief-consensus-poc/pkg/contracts/events"
)

// fakeStore implementa as dependências do orquestrador em memória.
type fakeStore struct {
	belief  engine.Belief
	reports map[string]engine.Report
	active  []string
}

func (f *fakeStore) GetBelief(context.Context, string) (*engine.Belief, error) {
	cp := f.belief
	return &cp, nil
}

func (f *fakeStore) BeliefExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeStore) LastTradeNotionals(context.Context, string) (map[string]float64, error) {
	return map[string]float64{"a": 100, "b": 100}, nil
}

func (f *fakeStore) LatestByAgent(context.Context, string) (map[string]engine.Report, error) {
	return f.reports, nil
}

func (f *fakeStore) ActiveAgents(context.Context, string, int64) ([]string, error) {
	return f.active, nil
}

func (f *fakeStore) CommitEpochTransition(_ context.Context, t *engine.EpochTransition) (map[string]float64, error) {
	f.belief.PreviousAggregate = t.Aggregate
	f.belief.Certainty = t.Certainty
	f.belief.LastProcessedEpoch = t.Epoch
	f.belief.UpdatedAt = time.Now()
	return t.StakeDeltas, nil
}

type fakePublisher struct {
	published []events.EpochSettled
}

func (p *fakePublisher) PublishEpochSettled(_ context.Context, e events.EpochSettled) error {
	p.published = append(p.published, e)
	return nil
}

func newSettler(store *fakeStore, pub *fakePublisher) *Settler {
	return &Settler{
		Log: zap.NewNop(),
		Orchestrator: &engine.Orchestrator{
			Log:         zap.NewNop(),
			Beliefs:     store,
			Submissions: store,
			Resolver:    engine.NewWeightResolver(store, 0.02),
			Committer:   store,
		},
		Publisher: pub,
	}
}

func TestSettlePublishesEpochSettled(t *testing.T) {
	store := &fakeStore{
		belief: engine.Belief{ID: "belief-1", LastProcessedEpoch: 1},
		reports: map[string]engine.Report{
			"a": {Belief: 0.8, MetaPrediction: 0.5},
			"b": {Belief: 0.3, MetaPrediction: 0.5},
		},
		active: []string{"a", "b"},
	}
	pub := &fakePublisher{}

	res, err := newSettler(store, pub).Settle(context.Background(), "belief-1", 2)
	require.NoError(t, err)
	require.Len(t, pub.published, 1)

	assert.Equal(t, "belief-1", pub.published[0].BeliefID)
	assert.Equal(t, int64(2), pub.published[0].Epoch)
	assert.Equal(t, res.Aggregate, pub.published[0].Aggregate)
	assert.Equal(t, 2, pub.published[0].ParticipantCount)
}

func TestSettleSkipDoesNotPublish(t *testing.T) {
	store := &fakeStore{
		belief: engine.Belief{ID: "belief-1", PreviousAggregate: 0.42, Certainty: 0.9, LastProcessedEpoch: 7},
	}
	pub := &fakePublisher{}

	res, err := newSettler(store, pub).Settle(context.Background(), "belief-1", 7)
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Equal(t, 0.42, res.Aggregate)
	assert.Empty(t, pub.published)
}
