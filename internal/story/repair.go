// Best-effort structural repair of malformed response fragments.
//
// Repairs are purely additive/substitutive: they synthesize structural
// scaffolding (ids, slugs, placeholder labels, default game-state fields)
// but never invent narrative content. Every repaired object is re-validated
// before being accepted, so a non-nil return is always a valid value.
package story

import "fmt"

// choiceTextFallbacks is the ordered list of alternate field names consulted
// when a choice is missing a usable "text" field.
var choiceTextFallbacks = []string{"text", "choice_text", "label", "description"}

// choiceLetters maps a positional index to the conventional short id.
const choiceLetters = "ABCDEFGH"

// RepairChoice attempts to synthesize a valid Choice from a malformed raw
// choice object at the given positional index.
//
// Heuristics:
//   - missing/invalid id    → letter derived from index (0→"A", 1→"B", ...)
//   - missing/invalid text  → first usable fallback field, else "Choice N"
//   - missing/invalid slug  → "choice_N"
//   - consequences and trait impacts are carried over only when well-typed
//
// The synthesized choice is re-validated; RepairChoice returns nil when the
// result still does not validate. It never panics.
func RepairChoice(raw any, index int) *Choice {
	cm, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	c := Choice{
		ID:   letterForIndex(index),
		Text: fmt.Sprintf("Choice %d", index+1),
		Slug: fmt.Sprintf("choice_%d", index+1),
	}

	if s, ok := stringField(cm, "id"); ok && len(s) <= MaxChoiceIDLen {
		c.ID = s
	}
	for _, key := range choiceTextFallbacks {
		if s, ok := stringField(cm, key); ok && len(s) <= MaxChoiceTextLen {
			c.Text = s
			break
		}
	}
	if s, ok := stringField(cm, "slug"); ok && len(s) <= MaxChoiceSlugLen {
		c.Slug = s
	}
	if v, present := cm["consequences"]; present {
		if list, ok := asStringSlice(v); ok {
			c.Consequences = list
		}
	}
	if v, present := cm["trait_impacts"]; present {
		if impacts, ok := asIntMap(v); ok {
			c.TraitImpacts = impacts
		}
	}

	// Accept only if the synthesized object now validates.
	if _, errs := decodeChoice(choiceToMap(c), index); len(errs) > 0 {
		return nil
	}
	return &c
}

// RepairGameState attempts to reconstruct a valid GameState from a malformed
// raw game-state object by filling every missing field with a safe default:
// act=1, empty flags/inventory, empty relationships, all five personality
// traits at 50. Trait values present but out of range are clamped.
//
// The filled state is re-validated; RepairGameState returns nil when the
// result still does not validate. It never panics.
func RepairGameState(raw any) *GameState {
	gm, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	gs := DefaultGameState()

	if n, ok := asInt(gm["act"]); ok && n >= 1 {
		gs.Act = n
	}
	if v, present := gm["flags"]; present {
		if list, ok := asStringSlice(v); ok {
			gs.Flags = list
		}
	}
	if v, present := gm["relationships"]; present {
		if rel, ok := asIntMap(v); ok {
			gs.Relationships = rel
		}
	}
	if v, present := gm["inventory"]; present {
		if list, ok := asStringSlice(v); ok {
			gs.Inventory = list
		}
	}
	if tm, ok := gm["personality_traits"].(map[string]any); ok {
		gs.Traits = PersonalityTraits{
			RiskTaking: traitOrDefault(tm, "risk_taking"),
			Empathy:    traitOrDefault(tm, "empathy"),
			Pragmatism: traitOrDefault(tm, "pragmatism"),
			Creativity: traitOrDefault(tm, "creativity"),
			Leadership: traitOrDefault(tm, "leadership"),
		}
	}

	if _, errs := decodeGameState(gameStateToMap(gs)); len(errs) > 0 {
		return nil
	}
	return &gs
}

// letterForIndex returns the conventional single-letter id for a choice
// position, falling back to a numeric token for out-of-range indices.
func letterForIndex(index int) string {
	if index >= 0 && index < len(choiceLetters) {
		return string(choiceLetters[index])
	}
	return fmt.Sprintf("C%d", index+1)
}

// stringField reads a non-empty string field from a raw object.
func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// traitOrDefault reads one trait value, clamping it into the valid range and
// substituting the neutral default when missing or mistyped.
func traitOrDefault(tm map[string]any, key string) int {
	n, ok := asInt(tm[key])
	if !ok {
		return 50
	}
	if n < MinTrait {
		return MinTrait
	}
	if n > MaxTrait {
		return MaxTrait
	}
	return n
}

// choiceToMap renders a Choice back into the canonical untyped form so the
// strict decoder can re-check it.
func choiceToMap(c Choice) map[string]any {
	m := map[string]any{
		"id":   c.ID,
		"text": c.Text,
		"slug": c.Slug,
	}
	if c.Consequences != nil {
		m["consequences"] = c.Consequences
	}
	if c.TraitImpacts != nil {
		m["trait_impacts"] = c.TraitImpacts
	}
	return m
}

// gameStateToMap renders a GameState back into the canonical untyped form so
// the strict decoder can re-check it.
func gameStateToMap(gs GameState) map[string]any {
	return map[string]any{
		"act":           gs.Act,
		"flags":         gs.Flags,
		"relationships": gs.Relationships,
		"inventory":     gs.Inventory,
		"personality_traits": map[string]any{
			"risk_taking": gs.Traits.RiskTaking,
			"empathy":     gs.Traits.Empathy,
			"pragmatism":  gs.Traits.Pragmatism,
			"creativity":  gs.Traits.Creativity,
			"leadership":  gs.Traits.Leadership,
		},
	}
}
