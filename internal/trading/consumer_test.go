package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"raptor/internal/router"
	"raptor/internal/store"
)

func autoStrategy() *store.Strategy {
	return &store.Strategy{
		UserID:      1,
		Chain:       store.ChainSolana,
		Kind:        store.StrategyAuto,
		Enabled:     true,
		AutoExecute: true,
		MinScore:    60,
		Launchpads:  []string{"pumpfun"},
	}
}

func candidate() *store.LaunchCandidate {
	return &store.LaunchCandidate{
		Chain:     store.ChainSolana,
		Source:    "pumpfun",
		TokenMint: "MintA",
		Deployer:  "DeployerA",
		Score:     75,
	}
}

func TestStrategyAcceptsBaseline(t *testing.T) {
	assert.True(t, StrategyAccepts(autoStrategy(), candidate()))
}

func TestStrategyAcceptsDisabled(t *testing.T) {
	st := autoStrategy()
	st.Enabled = false
	assert.False(t, StrategyAccepts(st, candidate()))

	st = autoStrategy()
	st.AutoExecute = false
	assert.False(t, StrategyAccepts(st, candidate()))
}

func TestStrategyAcceptsMinScore(t *testing.T) {
	st := autoStrategy()
	c := candidate()

	c.Score = 59.9
	assert.False(t, StrategyAccepts(st, c))
	c.Score = 60
	assert.True(t, StrategyAccepts(st, c), "min score is inclusive")

	st.MinScore = 0
	c.Score = 0
	assert.True(t, StrategyAccepts(st, c), "zero min score accepts anything")
}

func TestStrategyAcceptsLaunchpads(t *testing.T) {
	st := autoStrategy()
	c := candidate()

	c.Source = "moonshot"
	assert.False(t, StrategyAccepts(st, c))

	st.Launchpads = nil
	assert.True(t, StrategyAccepts(st, c), "empty launchpad list accepts all sources")
}

func TestStrategyAcceptsDenyList(t *testing.T) {
	st := autoStrategy()
	st.DenyList = []string{"MintA"}
	assert.False(t, StrategyAccepts(st, candidate()))

	st.DenyList = []string{"DeployerA"}
	assert.False(t, StrategyAccepts(st, candidate()), "deny list matches deployers too")

	st.DenyList = []string{"Other"}
	assert.True(t, StrategyAccepts(st, candidate()))
}

func TestStrategyAcceptsAllowList(t *testing.T) {
	st := autoStrategy()
	st.AllowList = []string{"MintB"}
	assert.False(t, StrategyAccepts(st, candidate()))

	st.AllowList = []string{"MintA"}
	assert.True(t, StrategyAccepts(st, candidate()))

	// Deny wins over allow.
	st.DenyList = []string{"MintA"}
	assert.False(t, StrategyAccepts(st, candidate()))
}

func TestConsumerConfigClamps(t *testing.T) {
	cfg := ConsumerConfig{}
	cfg.clamp()
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, "2s", cfg.PollInterval.String())
	assert.Equal(t, "2m0s", cfg.MaxCandidateAge.String())

	cfg = ConsumerConfig{BatchSize: 500, PollInterval: 1, MaxCandidateAge: 1}
	cfg.clamp()
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, "1s", cfg.PollInterval.String())
	assert.Equal(t, "30s", cfg.MaxCandidateAge.String())
}

func TestDenialCodeMapping(t *testing.T) {
	assert.Equal(t, router.CodeTradingPaused, DenialCode(store.ReasonTradingPaused))
	assert.Equal(t, router.CodeCircuitOpen, DenialCode(store.ReasonCircuitOpen))
	assert.Equal(t, router.CodeBudgetExceeded, DenialCode(store.ReasonCapExceeded))
	assert.Equal(t, router.CodeCooldownActive, DenialCode(store.ReasonCooldown))
	assert.Empty(t, DenialCode(store.ReasonAlreadyExecuted), "dedupe is not an error")
}
