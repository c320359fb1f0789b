// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tournament

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianEscalate/services/escalate/reasoning"
)

var schedulerTracer = otel.Tracer("escalate.tournament")

var (
	tournamentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalate_tournaments_total",
		Help: "Completed tournaments by outcome",
	}, []string{"outcome"})

	roundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escalate_tournament_round_duration_seconds",
		Help:    "Wall time per tournament round",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	lanesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalate_tournament_lane_failures_total",
		Help: "Lanes that errored or were cancelled; scored as worst",
	})

	hypothesesEliminatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalate_hypotheses_eliminated_total",
		Help: "Hypotheses removed by elimination rounds",
	})
)

// worstScore ranks below any real score, including negative ones.
var worstScore = math.Inf(-1)

// Scheduler runs elimination tournaments over candidate hypotheses.
//
// Thread Safety: Safe for concurrent use; every Run works on its own copy
// of the candidates.
type Scheduler struct {
	client    reasoning.Client
	prompts   PromptProvider
	config    Config
	maxTokens int
}

// NewScheduler creates a tournament scheduler.
//
// Inputs:
//   - client: Remote reasoning client shared by all lanes. Must not be nil.
//   - prompts: Prompt provider. Must not be nil.
//   - config: Tournament configuration. Use DefaultConfig() for defaults.
//
// Outputs:
//   - *Scheduler: The configured scheduler.
//   - error: If a dependency is nil or the config invalid.
func NewScheduler(client reasoning.Client, prompts PromptProvider, config Config) (*Scheduler, error) {
	if client == nil || prompts == nil {
		return nil, fmt.Errorf("client and prompts must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		client:    client,
		prompts:   prompts,
		config:    config,
		maxTokens: 2048,
	}, nil
}

// Run executes one tournament to completion.
//
// Description:
//
//	Each round evaluates every active hypothesis through a bounded pool of
//	lanes, waits for all of them (the round barrier), ranks by score
//	descending, and eliminates the lowest scorers. A lane error counts as
//	the worst possible score rather than aborting the tournament, so total
//	remote failure degrades to reporting the least-bad survivor. The run
//	stops when one hypothesis remains, the round cap is reached, or the
//	tournament budget expires; a budget stop with several survivors yields
//	a provisional, budget-limited winner.
//
// Inputs:
//
//	ctx - Context for cancellation. The tournament budget applies on top.
//	evidence - Shared evidence context given to every lane.
//	candidates - Hypotheses under test. Ids must be unique and non-empty.
//
// Outputs:
//
//	*Result - Winner, full ranking, and the elimination log.
//	error - Validation failure. Lane failures never surface here.
//
// Thread Safety: Safe for concurrent use.
func (s *Scheduler) Run(ctx context.Context, evidence string, candidates []Hypothesis) (*Result, error) {
	ctx, span := schedulerTracer.Start(ctx, "tournament.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("tournament.candidates", len(candidates)))

	byID, active, err := indexCandidates(candidates)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Budget)
	defer cancel()

	sem := NewSemaphore(s.config.Parallelism)
	eliminated := make([]Elimination, 0, len(active)-1)

	round := 0
	budgetLimited := false
	for len(active) > 1 && round < s.config.MaxRounds {
		if ctx.Err() != nil {
			budgetLimited = true
			break
		}

		roundStart := time.Now()
		roundScores := s.runRound(ctx, sem, byID, active, evidence)
		roundDuration.Observe(time.Since(roundStart).Seconds())

		active, eliminated = s.eliminate(byID, active, roundScores, round, eliminated)
		round++

		slog.Info("Tournament round complete",
			"round", round,
			"active", len(active),
			"eliminated", len(eliminated),
		)
	}
	if ctx.Err() != nil && len(active) > 1 {
		budgetLimited = true
	}

	winner := pickWinner(byID, active)
	winner.Status = StatusWinner

	result := &Result{
		Winner:        winner,
		Ranking:       buildRanking(byID, active, eliminated, winner.ID),
		Eliminated:    eliminated,
		Rounds:        round,
		Converged:     len(active) == 1,
		BudgetLimited: budgetLimited,
	}

	outcome := "converged"
	if !result.Converged {
		outcome = "round_cap"
	}
	if budgetLimited {
		outcome = "budget_limited"
	}
	tournamentsTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("tournament.winner", winner.ID),
		attribute.Int("tournament.rounds", round),
		attribute.Bool("tournament.converged", result.Converged),
	)
	slog.Info("Tournament finished",
		"winner", winner.ID,
		"rounds", round,
		"outcome", outcome,
	)
	return result, nil
}

// runRound evaluates every active hypothesis once and returns this round's
// scores. Failed and cancelled lanes score as worst.
func (s *Scheduler) runRound(ctx context.Context, sem *Semaphore, byID map[string]*Hypothesis, active []string, evidence string) map[string]float64 {
	roundCtx, cancel := context.WithTimeout(ctx, s.config.RoundTimeout)
	defer cancel()

	outcomes := runLanes(roundCtx, sem, active, func(laneCtx context.Context, id string) error {
		ln := &lane{
			hypothesis: byID[id],
			evidence:   evidence,
			client:     s.client,
			prompts:    s.prompts,
			maxTokens:  s.maxTokens,
		}
		return ln.Run(laneCtx)
	})

	scores := make(map[string]float64, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			lanesFailedTotal.Inc()
			scores[outcome.HypothesisID] = worstScore
			slog.Warn("Hypothesis lane failed, scoring as worst",
				"hypothesis_id", outcome.HypothesisID,
				"error", outcome.Err,
			)
			continue
		}
		scores[outcome.HypothesisID] = byID[outcome.HypothesisID].Score
	}
	return scores
}

// eliminate removes the lowest scorers of the round, never the sole
// survivor. Ties rank the earlier hypothesis id higher so elimination is
// deterministic regardless of lane completion order.
func (s *Scheduler) eliminate(byID map[string]*Hypothesis, active []string, scores map[string]float64, round int, log []Elimination) ([]string, []Elimination) {
	ranked := append([]string(nil), active...)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		return ranked[i] < ranked[j]
	})

	n := s.config.EliminatePerRound
	if n > len(ranked)-1 {
		n = len(ranked) - 1
	}

	for k := 0; k < n; k++ {
		id := ranked[len(ranked)-1-k]
		h := byID[id]
		h.Status = StatusEliminated

		reason := fmt.Sprintf("lowest score in round %d", round)
		if h.Note != "" {
			reason = h.Note
		}
		log = append(log, Elimination{HypothesisID: id, Round: round, Reason: reason})
		hypothesesEliminatedTotal.Inc()
	}

	survivors := ranked[:len(ranked)-n]
	sort.Strings(survivors)
	return survivors, log
}

// indexCandidates validates the candidate set and copies it into
// scheduler-owned records.
func indexCandidates(candidates []Hypothesis) (map[string]*Hypothesis, []string, error) {
	if len(candidates) == 0 {
		return nil, nil, ErrNoHypotheses
	}

	byID := make(map[string]*Hypothesis, len(candidates))
	active := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == "" {
			return nil, nil, ErrEmptyHypothesisID
		}
		if _, dup := byID[c.ID]; dup {
			return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateHypothesisID, c.ID)
		}
		h := c
		h.Status = StatusPending
		h.Scored = false
		h.Score = 0
		h.Rationale = ""
		h.Note = ""
		byID[c.ID] = &h
		active = append(active, c.ID)
	}
	sort.Strings(active)
	return byID, active, nil
}

// pickWinner selects the best remaining hypothesis: highest score first,
// earliest id on ties, unscored last.
func pickWinner(byID map[string]*Hypothesis, active []string) *Hypothesis {
	best := byID[active[0]]
	for _, id := range active[1:] {
		h := byID[id]
		if rankScore(h) > rankScore(best) {
			best = h
		}
	}
	return best
}

func rankScore(h *Hypothesis) float64 {
	if !h.Scored {
		return worstScore
	}
	return h.Score
}

// buildRanking orders every hypothesis best to worst: winner, surviving
// contenders by score, then eliminations newest first.
func buildRanking(byID map[string]*Hypothesis, active []string, eliminated []Elimination, winnerID string) []Hypothesis {
	ranking := make([]Hypothesis, 0, len(byID))
	ranking = append(ranking, *byID[winnerID])

	contenders := make([]string, 0, len(active))
	for _, id := range active {
		if id != winnerID {
			contenders = append(contenders, id)
		}
	}
	sort.SliceStable(contenders, func(i, j int) bool {
		si, sj := rankScore(byID[contenders[i]]), rankScore(byID[contenders[j]])
		if si != sj {
			return si > sj
		}
		return contenders[i] < contenders[j]
	})
	for _, id := range contenders {
		ranking = append(ranking, *byID[id])
	}

	for i := len(eliminated) - 1; i >= 0; i-- {
		ranking = append(ranking, *byID[eliminated[i].HypothesisID])
	}
	return ranking
}
