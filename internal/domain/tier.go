package domain

// Tier identifies the access level a request is served under. Guests are
// anonymous sessions without a profile; free and premium correspond to
// the subscription stored on UserProfile.
type Tier string

// Known access tiers.
const (
	TierGuest   Tier = "guest"
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Valid reports whether t is a tier that can be persisted on a profile.
// Guest is a request-scoped classification, never stored.
func (t Tier) Valid() bool { return t == TierFree || t == TierPremium }
