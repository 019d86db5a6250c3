// Package story implements the AI story-response validation pipeline: a
// structural validator for untyped candidate responses, best-effort repair
// heuristics for malformed fragments, and a retry orchestrator that drives a
// content-producing operation until it yields a valid response or the retry
// budget is exhausted.
//
// The package is pure: no I/O, no persistence, no logging. Callers decide how
// to produce candidate responses (an LLM call, a fixture, a stub) and what to
// do with the validated result.
package story

// Genre identifies the narrative genre of a story run.
type Genre string

// Supported genres. Horror, romance, and thriller require a premium
// subscription tier.
const (
	GenreFantasy  Genre = "fantasy"
	GenreMystery  Genre = "mystery"
	GenreSciFi    Genre = "sci-fi"
	GenreHorror   Genre = "horror"
	GenreRomance  Genre = "romance"
	GenreThriller Genre = "thriller"
)

// Valid reports whether g is one of the supported genres.
func (g Genre) Valid() bool {
	switch g {
	case GenreFantasy, GenreMystery, GenreSciFi, GenreHorror, GenreRomance, GenreThriller:
		return true
	}
	return false
}

// PremiumOnly reports whether g requires an active premium tier.
func (g Genre) PremiumOnly() bool {
	switch g {
	case GenreHorror, GenreRomance, GenreThriller:
		return true
	}
	return false
}

// Length identifies the target length of a story run.
type Length string

// Supported lengths. Extended runs require a premium subscription tier.
const (
	LengthQuick    Length = "quick"
	LengthStandard Length = "standard"
	LengthExtended Length = "extended"
)

// Valid reports whether l is one of the supported lengths.
func (l Length) Valid() bool {
	switch l {
	case LengthQuick, LengthStandard, LengthExtended:
		return true
	}
	return false
}

// PremiumOnly reports whether l requires an active premium tier.
func (l Length) PremiumOnly() bool { return l == LengthExtended }

// Challenge identifies the difficulty posture of a story run.
type Challenge string

// Supported challenge settings.
const (
	ChallengeCasual      Challenge = "casual"
	ChallengeChallenging Challenge = "challenging"
)

// Valid reports whether c is one of the supported challenge settings.
func (c Challenge) Valid() bool {
	return c == ChallengeCasual || c == ChallengeChallenging
}

// PersonalityTraits is the complete set of five tracked traits. The set is
// never partial: a valid game state always carries all five, each in [0,100].
type PersonalityTraits struct {
	RiskTaking int `json:"risk_taking"`
	Empathy    int `json:"empathy"`
	Pragmatism int `json:"pragmatism"`
	Creativity int `json:"creativity"`
	Leadership int `json:"leadership"`
}

// DefaultTraits returns the neutral trait set used for new runs and for
// game-state repair (every trait at 50).
func DefaultTraits() PersonalityTraits {
	return PersonalityTraits{
		RiskTaking: 50,
		Empathy:    50,
		Pragmatism: 50,
		Creativity: 50,
		Leadership: 50,
	}
}

// Choice is a single branching option offered at the end of a story step.
//
// Fields:
//   - ID: short stable token, conventionally "A".."D" (max 8 chars).
//   - Text: player-facing choice text (1–500 chars).
//   - Slug: stable machine-readable key (1–100 chars), used for analytics.
//   - Consequences: optional narrative consequence hints.
//   - TraitImpacts: optional trait name → signed delta map applied when the
//     choice is taken.
type Choice struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Slug         string         `json:"slug"`
	Consequences []string       `json:"consequences,omitempty"`
	TraitImpacts map[string]int `json:"trait_impacts,omitempty"`
}

// GameState is the evolving state of a story run. It is owned by the run and
// mutated only by applying a validated generation result. Flags are
// append-only across a run.
type GameState struct {
	Act           int               `json:"act"`
	Flags         []string          `json:"flags"`
	Relationships map[string]int    `json:"relationships"`
	Inventory     []string          `json:"inventory"`
	Traits        PersonalityTraits `json:"personality_traits"`
}

// DefaultGameState returns the safe initial state: act 1, nothing collected,
// neutral traits.
func DefaultGameState() GameState {
	return GameState{
		Act:           1,
		Flags:         []string{},
		Relationships: map[string]int{},
		Inventory:     []string{},
		Traits:        DefaultTraits(),
	}
}

// StoryResponse is the unit the validator operates on: one generated story
// step. It is produced transiently per generation call and discarded after
// being persisted as a step or rejected.
type StoryResponse struct {
	StoryText  string    `json:"story_text"`
	Choices    []Choice  `json:"choices"`
	GameState  GameState `json:"game_state"`
	IsEnding   bool      `json:"is_ending"`
	EndingType *string   `json:"ending_type,omitempty"`
}

// ValidationResult carries the outcome of validating (and possibly repairing)
// a candidate value.
//
// Invariant: Success=true and CanRetry=true never coexist. A repaired result
// is Success=true with informational entries in Errors and CanRetry=false.
// A failed result carries the error list of the failing attempt and CanRetry
// reflects whether a fresh attempt is worth making.
type ValidationResult[T any] struct {
	Success  bool     `json:"success"`
	Data     *T       `json:"data,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	CanRetry bool     `json:"can_retry"`
}

// Bounds enforced by the validator.
const (
	MaxStoryTextLen  = 5000
	MaxChoiceTextLen = 500
	MaxChoiceSlugLen = 100
	MaxChoiceIDLen   = 8
	MinChoices       = 2
	MaxChoices       = 4
	MinTrait         = 0
	MaxTrait         = 100
)
