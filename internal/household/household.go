package household

// Member is one person in the household.
type Member struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Age                 int      `json:"age,omitempty"`
	DietaryRestrictions []string `json:"dietaryRestrictions,omitempty"`
}

// Household is the single-tenant profile driving meal generation. Exactly
// one household is current at a time; it is never deleted, only reset back
// to a blank onboarding state.
type Household struct {
	ID                 int64    `json:"id"`
	Members            []Member `json:"members"`
	CookingSkill       int      `json:"cookingSkill"`
	Preferences        string   `json:"preferences"`
	Appliances         []string `json:"appliances"`
	Location           string   `json:"location,omitempty"`
	OnboardingComplete bool     `json:"onboardingComplete"`
}

// Blank returns the post-reset onboarding state.
func Blank() Household {
	return Household{
		Members:      []Member{},
		CookingSkill: 1,
		Appliances:   []string{},
	}
}

// Patch is a partial household update; nil fields are left untouched.
type Patch struct {
	Members            *[]Member `json:"members,omitempty"`
	CookingSkill       *int      `json:"cookingSkill,omitempty"`
	Preferences        *string   `json:"preferences,omitempty"`
	Appliances         *[]string `json:"appliances,omitempty"`
	Location           *string   `json:"location,omitempty"`
	OnboardingComplete *bool     `json:"onboardingComplete,omitempty"`
}

// Apply merges the patch into a copy of the household and returns it.
func (p Patch) Apply(h Household) Household {
	out := h.Clone()
	if p.Members != nil {
		out.Members = append([]Member(nil), (*p.Members)...)
	}
	if p.CookingSkill != nil {
		out.CookingSkill = *p.CookingSkill
	}
	if p.Preferences != nil {
		out.Preferences = *p.Preferences
	}
	if p.Appliances != nil {
		out.Appliances = append([]string(nil), (*p.Appliances)...)
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.OnboardingComplete != nil {
		out.OnboardingComplete = *p.OnboardingComplete
	}
	return out
}

// Clone returns a deep copy.
func (h Household) Clone() Household {
	out := h
	out.Members = make([]Member, len(h.Members))
	for i, m := range h.Members {
		out.Members[i] = m
		out.Members[i].DietaryRestrictions = append([]string(nil), m.DietaryRestrictions...)
	}
	out.Appliances = append([]string(nil), h.Appliances...)
	return out
}
