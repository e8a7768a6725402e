package review

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/models"
)

func TestFlow_AutoApproveDecidesOnRouting(t *testing.T) {
	r := NewRouter(config.DefaultConfig(), nil)
	f := NewFlow("T")

	require.NoError(t, f.Scored(scoreOf(1)))
	require.NoError(t, f.Routed(r.Route(f.Score, "", nil, models.ModeAuto)))

	assert.Equal(t, StateDecided, f.State())
	assert.Equal(t, models.DecisionAutoApprove, f.Final.Decision)
	assert.Equal(t, []State{StateUnscored, StateScored, StateRouted, StateDecided}, f.History())
}

func TestFlow_ModeNeverSkips(t *testing.T) {
	r := NewRouter(config.DefaultConfig(), nil)
	f := NewFlow("T")

	require.NoError(t, f.Scored(scoreOf(9)))
	require.NoError(t, f.Routed(r.Route(f.Score, "", nil, models.ModeNever)))

	assert.Equal(t, StateSkipped, f.State())
	assert.True(t, f.State().IsTerminal())
}

func TestFlow_FullReviewPath(t *testing.T) {
	r := NewRouter(config.DefaultConfig(), nil)
	f := NewFlow("T")

	require.NoError(t, f.Scored(scoreOf(8)))
	require.NoError(t, f.Routed(r.Route(f.Score, "", nil, models.ModeAuto)))
	assert.Equal(t, StateRouted, f.State())

	err := f.Reviewed(r.Route(f.Score, "", nil, models.ModeAuto))
	assert.True(t, errors.Is(err, ErrInvalidTransition), "complexity-stage decision is not a review")

	require.NoError(t, f.Reviewed(r.RouteReview(65, "")))
	assert.Equal(t, StateDecided, f.State())
	assert.Equal(t, models.DecisionApproveWithRecommendations, f.Final.Decision)
	assert.Equal(t, []State{StateUnscored, StateScored, StateRouted, StateReviewed, StateDecided}, f.History())
}

func TestFlow_DecideWithoutReview(t *testing.T) {
	r := NewRouter(config.DefaultConfig(), nil)
	f := NewFlow("T")

	require.NoError(t, f.Scored(scoreOf(5)))
	require.NoError(t, f.Routed(r.Route(f.Score, "", nil, models.ModeAuto)))
	require.NoError(t, f.Decide())

	assert.Equal(t, models.DecisionQuickOptional, f.Final.Decision)
}

func TestFlow_IllegalTransitions(t *testing.T) {
	f := NewFlow("T")

	assert.ErrorIs(t, f.Routed(models.ReviewDecision{}), ErrInvalidTransition)
	assert.ErrorIs(t, f.Decide(), ErrInvalidTransition)

	require.NoError(t, f.Scored(scoreOf(1)))
	assert.ErrorIs(t, f.Scored(scoreOf(1)), ErrInvalidTransition)

	require.NoError(t, f.Routed(models.ReviewDecision{Decision: models.DecisionAutoApprove, Mode: models.ModeAuto}))
	assert.ErrorIs(t, f.Decide(), ErrInvalidTransition, "terminal states accept nothing")
}
