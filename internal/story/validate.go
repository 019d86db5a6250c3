// Structural validation of untyped story responses.
//
// ValidateStoryResponse takes an arbitrary decoded value (typically a
// map[string]any produced by json.Unmarshal over an LLM completion) and
// checks it against the StoryResponse shape: field presence, types, and
// bounds. Individual malformed choices and a malformed game state are routed
// through the repair heuristics in repair.go; everything else fails hard.
//
// Error messages deliberately use a small canonical vocabulary ("required",
// "expected string", "expected array", ...) so the retryable classifier can
// pattern-match them.
package story

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"
)

// retryablePatternRE matches error messages that indicate a structural or
// type-level problem likely to resolve on a fresh generation attempt.
var retryablePatternRE = regexp.MustCompile(
	`(?i)(required|expected (string|number|array|object|boolean)|invalid type)`)

// Retryable reports whether any message in errs matches the retryable error
// patterns.
func Retryable(errs []string) bool {
	for _, e := range errs {
		if retryablePatternRE.MatchString(e) {
			return true
		}
	}
	return false
}

// ValidateStoryResponse validates raw against the StoryResponse shape.
//
// The function is pure and idempotent: it never mutates its input, and
// calling it twice on the same value yields the same result. Valid input is
// returned unchanged in Data. When strict validation fails only on
// individual choices or on the game state, repair is attempted; a repaired
// response comes back Success=true with informational "repaired ..." entries
// in Errors and CanRetry=false.
func ValidateStoryResponse(raw any) ValidationResult[StoryResponse] {
	m, ok := asObject(raw)
	if !ok {
		return failure[StoryResponse]("response: expected object")
	}

	var (
		errs    []string
		notices []string
		resp    StoryResponse
	)

	// story_text: required string, 1..MaxStoryTextLen runes. Never repaired:
	// synthesizing narrative content is out of bounds for repair.
	switch v, present := m["story_text"]; {
	case !present:
		errs = append(errs, "story_text: required")
	default:
		s, ok := v.(string)
		if !ok {
			errs = append(errs, "story_text: expected string")
			break
		}
		if n := utf8.RuneCountInString(s); n < 1 || n > MaxStoryTextLen {
			errs = append(errs, fmt.Sprintf("story_text: length must be between 1 and %d", MaxStoryTextLen))
			break
		}
		resp.StoryText = s
	}

	// Peeked early: an ending step is allowed to offer no choices.
	ending, _ := m["is_ending"].(bool)

	// choices: required array of 2..4 entries. Cardinality violations are a
	// hard failure, never a repair target; only per-entry repair is allowed.
	switch v, present := m["choices"]; {
	case !present && ending:
		// nothing to offer after the final scene
	case !present:
		errs = append(errs, "choices: required")
	default:
		arr, ok := v.([]any)
		if !ok {
			errs = append(errs, "choices: expected array")
			break
		}
		if len(arr) == 0 && ending {
			break
		}
		if len(arr) < MinChoices || len(arr) > MaxChoices {
			errs = append(errs, fmt.Sprintf("choices: must contain between %d and %d entries", MinChoices, MaxChoices))
			break
		}
		choices := make([]Choice, 0, len(arr))
		for i, rawChoice := range arr {
			c, cerrs := decodeChoice(rawChoice, i)
			if len(cerrs) == 0 {
				choices = append(choices, c)
				continue
			}
			repaired := RepairChoice(rawChoice, i)
			if repaired == nil {
				errs = append(errs, cerrs...)
				continue
			}
			choices = append(choices, *repaired)
			notices = append(notices, fmt.Sprintf("repaired choice %d", i))
		}
		if len(choices) == len(arr) {
			resp.Choices = choices
		}
	}

	// game_state: required object; malformed states are filled with safe
	// defaults by RepairGameState.
	switch v, present := m["game_state"]; {
	case !present:
		repaired := RepairGameState(map[string]any{})
		resp.GameState = *repaired
		notices = append(notices, "repaired game state")
	default:
		gs, gerrs := decodeGameState(v)
		if len(gerrs) == 0 {
			resp.GameState = gs
			break
		}
		repaired := RepairGameState(v)
		if repaired == nil {
			errs = append(errs, gerrs...)
			break
		}
		resp.GameState = *repaired
		notices = append(notices, "repaired game state")
	}

	// is_ending: optional boolean, defaults to false.
	if v, present := m["is_ending"]; present {
		b, ok := v.(bool)
		if !ok {
			errs = append(errs, "is_ending: expected boolean")
		} else {
			resp.IsEnding = b
		}
	}

	// ending_type: optional string.
	if v, present := m["ending_type"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			errs = append(errs, "ending_type: expected string")
		} else if s != "" {
			resp.EndingType = &s
		}
	}

	if len(errs) > 0 {
		return ValidationResult[StoryResponse]{
			Success:  false,
			Errors:   errs,
			CanRetry: Retryable(errs),
		}
	}
	return ValidationResult[StoryResponse]{
		Success: true,
		Data:    &resp,
		Errors:  notices,
	}
}

// failure builds a failed ValidationResult from one or more error messages,
// classifying retryability from the messages themselves.
func failure[T any](errs ...string) ValidationResult[T] {
	return ValidationResult[T]{Success: false, Errors: errs, CanRetry: Retryable(errs)}
}

// asObject coerces raw into a map[string]any when possible. Raw JSON text and
// already-typed StoryResponse values are accepted for caller convenience; the
// latter round-trips through encoding/json so validation always operates on
// one canonical representation.
func asObject(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, true
	case []byte:
		return decodeObject(v)
	case json.RawMessage:
		return decodeObject(v)
	case string:
		return decodeObject([]byte(v))
	case StoryResponse:
		return marshalObject(v)
	case *StoryResponse:
		if v == nil {
			return nil, false
		}
		return marshalObject(*v)
	default:
		return nil, false
	}
}

func decodeObject(b []byte) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func marshalObject(v StoryResponse) (map[string]any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return decodeObject(b)
}

// decodeChoice validates and decodes a single raw choice at position index.
// It returns every violation found rather than stopping at the first.
func decodeChoice(raw any, index int) (Choice, []string) {
	prefix := fmt.Sprintf("choices[%d]", index)
	cm, ok := raw.(map[string]any)
	if !ok {
		return Choice{}, []string{prefix + ": expected object"}
	}

	var c Choice
	var errs []string

	if v, present := cm["id"]; !present {
		errs = append(errs, prefix+".id: required")
	} else if s, ok := v.(string); !ok {
		errs = append(errs, prefix+".id: expected string")
	} else if n := utf8.RuneCountInString(s); n < 1 || n > MaxChoiceIDLen {
		errs = append(errs, fmt.Sprintf("%s.id: length must be between 1 and %d", prefix, MaxChoiceIDLen))
	} else {
		c.ID = s
	}

	if v, present := cm["text"]; !present {
		errs = append(errs, prefix+".text: required")
	} else if s, ok := v.(string); !ok {
		errs = append(errs, prefix+".text: expected string")
	} else if n := utf8.RuneCountInString(s); n < 1 || n > MaxChoiceTextLen {
		errs = append(errs, fmt.Sprintf("%s.text: length must be between 1 and %d", prefix, MaxChoiceTextLen))
	} else {
		c.Text = s
	}

	if v, present := cm["slug"]; !present {
		errs = append(errs, prefix+".slug: required")
	} else if s, ok := v.(string); !ok {
		errs = append(errs, prefix+".slug: expected string")
	} else if n := utf8.RuneCountInString(s); n < 1 || n > MaxChoiceSlugLen {
		errs = append(errs, fmt.Sprintf("%s.slug: length must be between 1 and %d", prefix, MaxChoiceSlugLen))
	} else {
		c.Slug = s
	}

	if v, present := cm["consequences"]; present && v != nil {
		list, ok := asStringSlice(v)
		if !ok {
			errs = append(errs, prefix+".consequences: expected array")
		} else {
			c.Consequences = list
		}
	}

	if v, present := cm["trait_impacts"]; present && v != nil {
		impacts, ok := asIntMap(v)
		if !ok {
			errs = append(errs, prefix+".trait_impacts: expected object")
		} else {
			c.TraitImpacts = impacts
		}
	}

	return c, errs
}

// decodeGameState validates and decodes a raw game-state value.
func decodeGameState(raw any) (GameState, []string) {
	gm, ok := raw.(map[string]any)
	if !ok {
		return GameState{}, []string{"game_state: expected object"}
	}

	var gs GameState
	var errs []string

	if v, present := gm["act"]; !present {
		errs = append(errs, "game_state.act: required")
	} else if n, ok := asInt(v); !ok {
		errs = append(errs, "game_state.act: expected number")
	} else if n < 1 {
		errs = append(errs, "game_state.act: must be at least 1")
	} else {
		gs.Act = n
	}

	if v, present := gm["flags"]; !present {
		errs = append(errs, "game_state.flags: required")
	} else if list, ok := asStringSlice(v); !ok {
		errs = append(errs, "game_state.flags: expected array")
	} else {
		gs.Flags = list
	}

	if v, present := gm["relationships"]; !present {
		errs = append(errs, "game_state.relationships: required")
	} else if rel, ok := asIntMap(v); !ok {
		errs = append(errs, "game_state.relationships: expected object")
	} else {
		gs.Relationships = rel
	}

	if v, present := gm["inventory"]; !present {
		errs = append(errs, "game_state.inventory: required")
	} else if list, ok := asStringSlice(v); !ok {
		errs = append(errs, "game_state.inventory: expected array")
	} else {
		gs.Inventory = list
	}

	traits, terrs := decodeTraits(gm["personality_traits"])
	if len(terrs) > 0 {
		errs = append(errs, terrs...)
	} else {
		gs.Traits = traits
	}

	return gs, errs
}

// decodeTraits validates the five-trait set. The set must be complete and
// every value must sit inside [MinTrait, MaxTrait].
func decodeTraits(raw any) (PersonalityTraits, []string) {
	if raw == nil {
		return PersonalityTraits{}, []string{"game_state.personality_traits: required"}
	}
	tm, ok := raw.(map[string]any)
	if !ok {
		return PersonalityTraits{}, []string{"game_state.personality_traits: expected object"}
	}

	var errs []string
	read := func(key string) int {
		v, present := tm[key]
		if !present {
			errs = append(errs, "game_state.personality_traits."+key+": required")
			return 0
		}
		n, ok := asInt(v)
		if !ok {
			errs = append(errs, "game_state.personality_traits."+key+": expected number")
			return 0
		}
		if n < MinTrait || n > MaxTrait {
			errs = append(errs, fmt.Sprintf("game_state.personality_traits.%s: must be between %d and %d", key, MinTrait, MaxTrait))
			return 0
		}
		return n
	}

	t := PersonalityTraits{
		RiskTaking: read("risk_taking"),
		Empathy:    read("empathy"),
		Pragmatism: read("pragmatism"),
		Creativity: read("creativity"),
		Leadership: read("leadership"),
	}
	if len(errs) > 0 {
		return PersonalityTraits{}, errs
	}
	return t, nil
}

// asInt accepts the numeric representations encoding/json produces (float64)
// plus plain ints, rejecting non-integral floats.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// asStringSlice converts a decoded JSON array into []string, rejecting
// non-string entries.
func asStringSlice(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// asIntMap converts a decoded JSON object into map[string]int, rejecting
// non-integer values.
func asIntMap(v any) (map[string]int, bool) {
	switch m := v.(type) {
	case map[string]int:
		out := make(map[string]int, len(m))
		for k, n := range m {
			out[k] = n
		}
		return out, true
	case map[string]any:
		out := make(map[string]int, len(m))
		for k, item := range m {
			n, ok := asInt(item)
			if !ok {
				return nil, false
			}
			out[k] = n
		}
		return out, true
	default:
		return nil, false
	}
}
