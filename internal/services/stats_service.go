// Package services – StatsService
//
// This file implements StatsService, which turns the raw choice counters
// into player-facing statistics: how often a choice was picked when
// offered, and a rarity label for it.
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/repo"
)

// Rarity labels, from least to most common.
const (
	RarityUltraRare = "ultra-rare"
	RarityRare      = "rare"
	RarityUncommon  = "uncommon"
	RarityCommon    = "common"
)

// ChoiceStatView is one aggregated choice row as served to clients.
type ChoiceStatView struct {
	Genre        string  `json:"genre"`
	Slug         string  `json:"slug"`
	TimesOffered int64   `json:"times_offered"`
	TimesChosen  int64   `json:"times_chosen"`
	SelectionPct float64 `json:"selection_pct"`
	Rarity       string  `json:"rarity"`
}

// OverviewView carries corpus-wide totals.
type OverviewView struct {
	TotalRuns  int64 `json:"total_runs"`
	ActiveRuns int64 `json:"active_runs"`
	EndedRuns  int64 `json:"ended_runs"`
	TotalSteps int64 `json:"total_steps"`
}

// StatsService serves aggregated choice statistics.
type StatsService struct {
	DB *gorm.DB
}

// ChoiceStats returns a page of aggregated choice rows, optionally
// filtered by genre, ordered by offer count descending.
func (s *StatsService) ChoiceStats(ctx context.Context, genre string, page, pageSize int) ([]ChoiceStatView, int64, error) {
	tr := otel.Tracer("services/StatsService")
	ctx, span := tr.Start(ctx, "ChoiceStats",
		trace.WithAttributes(
			attribute.String("stats.genre", genre),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := normalizePage(page, pageSize)

	total, err := repo.CountChoiceStats(ctx, s.DB, genre)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []ChoiceStatView{}, 0, nil
	}
	rows, err := repo.ListChoiceStatsPage(ctx, s.DB, genre, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}

	out := make([]ChoiceStatView, 0, len(rows))
	for _, r := range rows {
		pct := SelectionPct(r.TimesChosen, r.TimesOffered)
		out = append(out, ChoiceStatView{
			Genre:        r.Genre,
			Slug:         r.Slug,
			TimesOffered: r.TimesOffered,
			TimesChosen:  r.TimesChosen,
			SelectionPct: pct,
			Rarity:       RarityLevel(pct),
		})
	}
	return out, total, nil
}

// Overview returns corpus-wide totals across all users.
func (s *StatsService) Overview(ctx context.Context) (OverviewView, error) {
	tr := otel.Tracer("services/StatsService")
	ctx, span := tr.Start(ctx, "Overview")
	defer span.End()

	counts, err := repo.Overview(ctx, s.DB)
	if err != nil {
		return OverviewView{}, err
	}
	return OverviewView{
		TotalRuns:  counts.TotalRuns,
		ActiveRuns: counts.ActiveRuns,
		EndedRuns:  counts.EndedRuns,
		TotalSteps: counts.TotalSteps,
	}, nil
}

// SelectionPct computes how often a choice was picked when offered, as a
// percentage. A slug that was never offered reads as zero.
func SelectionPct(chosen, offered int64) float64 {
	if offered <= 0 {
		return 0
	}
	return float64(chosen) / float64(offered) * 100
}

// RarityLevel buckets a selection percentage into a rarity label:
// under 1% is ultra-rare, under 5% rare, under 15% uncommon, anything
// else common.
func RarityLevel(pct float64) string {
	switch {
	case pct < 1:
		return RarityUltraRare
	case pct < 5:
		return RarityRare
	case pct < 15:
		return RarityUncommon
	default:
		return RarityCommon
	}
}
