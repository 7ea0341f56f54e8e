package meal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMealData marks a meal payload missing its name or too malformed
// to normalize. Collaborator responses and client snapshots both pass
// through Normalize before anything else sees them.
var ErrInvalidMealData = errors.New("invalid meal data")

// Raw mirrors every field-name variant seen in collaborator output and old
// client payloads. The drift comes from a generative upstream, not from a
// deliberate polymorphic design.
type Raw struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Categories  []string        `json:"categories"`
	PrepTime    json.RawMessage `json:"prepTime"`
	PrepTimeAlt json.RawMessage `json:"prep_time"`
	Servings    json.RawMessage `json:"servings"`

	Ingredients        []string `json:"ingredients"`
	MainIngredients    []string `json:"mainIngredients"`
	MainIngredientsAlt []string `json:"main_ingredients"`

	Rationales      []string `json:"rationales"`
	Instructions    []string `json:"instructions"`
	Directions      []string `json:"directions"`
	InstructionsStr string   `json:"instructions_text"`
}

// Normalize folds a raw payload into the canonical Meal shape.
func Normalize(raw Raw) (Meal, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = strings.TrimSpace(raw.Title)
	}
	if name == "" {
		return Meal{}, fmt.Errorf("%w: missing name", ErrInvalidMealData)
	}

	m := Meal{
		ID:          strings.TrimSpace(raw.ID),
		Name:        name,
		Description: strings.TrimSpace(raw.Description),
		Category:    normalizeCategory(raw),
		PrepTime:    parseMinutes(firstRaw(raw.PrepTime, raw.PrepTimeAlt)),
		Servings:    parseMinutes(raw.Servings),
		Ingredients: firstNonEmpty(raw.Ingredients, raw.MainIngredients, raw.MainIngredientsAlt),
		Rationales:  raw.Rationales,
	}

	switch {
	case len(raw.Instructions) > 0:
		m.Instructions = raw.Instructions
	case len(raw.Directions) > 0:
		m.Instructions = raw.Directions
	case raw.InstructionsStr != "":
		m.Instructions = []string{raw.InstructionsStr}
	}

	if m.Ingredients == nil {
		m.Ingredients = []string{}
	}
	return m, nil
}

// NormalizeJSON parses and normalizes a single meal object.
func NormalizeJSON(data []byte) (Meal, error) {
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return Meal{}, fmt.Errorf("%w: %v", ErrInvalidMealData, err)
	}
	return Normalize(raw)
}

// NormalizeListJSON parses and normalizes a JSON array of meals.
func NormalizeListJSON(data []byte) ([]Meal, error) {
	var raws []Raw
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMealData, err)
	}
	meals := make([]Meal, 0, len(raws))
	for _, raw := range raws {
		m, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		meals = append(meals, m)
	}
	return meals, nil
}

func normalizeCategory(raw Raw) Category {
	candidate := raw.Category
	if candidate == "" && len(raw.Categories) > 0 {
		candidate = raw.Categories[0]
	}
	candidate = strings.TrimSpace(candidate)
	for _, c := range Categories() {
		if strings.EqualFold(candidate, string(c)) {
			return c
		}
	}
	// Unknown labels from the collaborator fall back to the broadest bucket.
	if candidate != "" {
		return CategoryWeeknight
	}
	return ""
}

// parseMinutes accepts numbers and strings like "30", "30 mins", "30 minutes".
func parseMinutes(data json.RawMessage) int {
	if len(data) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0
	}
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

func firstRaw(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

func firstNonEmpty(candidates ...[]string) []string {
	for _, c := range candidates {
		if len(c) > 0 {
			return append([]string(nil), c...)
		}
	}
	return nil
}
