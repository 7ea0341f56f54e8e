package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"meal-assistant/internal/app"
	"meal-assistant/internal/config"
	"meal-assistant/internal/generation"
	"meal-assistant/internal/grocery"
	"meal-assistant/internal/household"
	"meal-assistant/internal/meal"
	"meal-assistant/internal/plan"
)

// Server exposes the assistant over a JSON HTTP API.
type Server struct {
	app *app.App
	cfg *config.Config
	mux *http.ServeMux
}

// New creates the Server and registers its routes.
func New(application *app.App, cfg *config.Config) *Server {
	s := &Server{app: application, cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.mux.HandleFunc("GET /api/household", s.handleGetHousehold)
	s.mux.HandleFunc("PATCH /api/household", s.handlePatchHousehold)
	s.mux.HandleFunc("POST /api/household/reset", s.requireAdmin(s.handleResetHousehold))

	s.mux.HandleFunc("GET /api/plans", s.handleListPlans)
	s.mux.HandleFunc("POST /api/plans", s.handleGeneratePlan)
	s.mux.HandleFunc("GET /api/plans/{id}", s.handleGetPlan)
	s.mux.HandleFunc("PUT /api/plans/{id}", s.handleUpdatePlan)
	s.mux.HandleFunc("POST /api/plans/{id}/activate", s.handleActivatePlan)
	s.mux.HandleFunc("POST /api/plans/{id}/reset", s.requireAdmin(s.handleResetPlan))
	s.mux.HandleFunc("POST /api/plans/{id}/meals", s.handleAddMeal)
	s.mux.HandleFunc("DELETE /api/plans/{id}/meals/{mealId}", s.handleRemoveMeal)
	s.mux.HandleFunc("POST /api/plans/{id}/meals/{mealId}/replace", s.handleReplaceMeal)
	s.mux.HandleFunc("POST /api/plans/{id}/meals/{mealId}/modify", s.handleModifyMeal)
	s.mux.HandleFunc("POST /api/plans/{id}/clip", s.handleClipMeal)

	s.mux.HandleFunc("GET /api/plans/{id}/groceries", s.handleGetGroceries)
	s.mux.HandleFunc("POST /api/plans/{id}/groceries/synthesize", s.handleSynthesizeGroceries)
	s.mux.HandleFunc("POST /api/groceries/{listId}/items", s.handleAddManualItem)
	s.mux.HandleFunc("POST /api/groceries/{listId}/items/{itemId}/check", s.handleCheckItem)
	s.mux.HandleFunc("GET /api/groceries/{listId}/organized", s.handleOrganizeGroceries)

	s.mux.HandleFunc("GET /api/chat", s.handleGetChat)
	s.mux.HandleFunc("POST /api/chat", s.handlePostChat)
}

// ListenAndServe runs the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("HTTP API listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// --- household ---

func (s *Server) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	h, err := s.app.Households.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handlePatchHousehold(w http.ResponseWriter, r *http.Request) {
	var patch household.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid household patch", "BadRequest")
		return
	}
	h, err := s.app.Households.Update(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleResetHousehold(w http.ResponseWriter, r *http.Request) {
	result, err := s.app.ResetHousehold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- plans ---

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.app.Plans.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if plans == nil {
		plans = []plan.MealPlan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Request string `json:"request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "BadRequest")
		return
	}
	p, err := s.app.GeneratePlan(r.Context(), body.Request)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	var (
		p   plan.MealPlan
		err error
	)
	if planID == 0 {
		p, err = s.app.Plans.Current(r.Context())
	} else {
		p, err = s.app.Plans.Get(r.Context(), planID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	var body struct {
		Meals               []meal.Raw `json:"meals"`
		BaseVersion         time.Time  `json:"baseVersion"`
		RegenerateGroceries bool       `json:"regenerateGroceries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid plan snapshot", "BadRequest")
		return
	}

	// Ingestion boundary: client snapshots are normalized before the core
	// touches them.
	meals := make([]meal.Meal, 0, len(body.Meals))
	for _, raw := range body.Meals {
		m, err := meal.Normalize(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		meals = append(meals, m)
	}

	p, err := s.app.Plans.UpdatePlan(r.Context(), planID, meals, plan.UpdatePlanOptions{
		BaseVersion:         body.BaseVersion,
		RegenerateGroceries: body.RegenerateGroceries,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleActivatePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	if err := s.app.Plans.Activate(r.Context(), planID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	p, err := s.app.Plans.ResetPlan(r.Context(), planID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAddMeal(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	var body struct {
		MealType        string `json:"mealType"`
		Preferences     string `json:"preferences"`
		SkipGrocerySync bool   `json:"skipGrocerySync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "BadRequest")
		return
	}
	m, err := s.app.Plans.AddMeal(r.Context(), planID, meal.Category(body.MealType), body.Preferences,
		plan.AddMealOptions{SkipGrocerySync: body.SkipGrocerySync})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleRemoveMeal(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	if err := s.app.Plans.RemoveMeal(r.Context(), planID, r.PathValue("mealId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplaceMeal(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	m, err := s.app.Plans.ReplaceMeal(r.Context(), planID, r.PathValue("mealId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleModifyMeal(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	var body struct {
		ChangeRequest       string `json:"changeRequest"`
		RegenerateGroceries bool   `json:"regenerateGroceries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "BadRequest")
		return
	}

	var target plan.MealPlan
	var err error
	if planID == 0 {
		target, err = s.app.Plans.Current(r.Context())
	} else {
		target, err = s.app.Plans.Get(r.Context(), planID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	idx := meal.FindByID(target.Meals, r.PathValue("mealId"))
	if idx < 0 {
		writeError(w, plan.ErrMealNotFound)
		return
	}

	m, err := s.app.Plans.ModifyMeal(r.Context(), target.ID, target.Meals[idx], body.ChangeRequest,
		plan.ModifyMealOptions{RegenerateGroceries: body.RegenerateGroceries})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleClipMeal(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid clip request", "BadRequest")
		return
	}
	clipped, err := s.app.Clipper.ClipURL(r.Context(), body.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.app.Plans.AddClippedMeal(r.Context(), planID, clipped)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// --- groceries ---

func (s *Server) handleGetGroceries(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	if planID == 0 {
		current, err := s.app.Plans.Current(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		planID = current.ID
	}
	l, err := s.app.Groceries.CurrentForPlan(r.Context(), planID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleSynthesizeGroceries(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.planID(w, r)
	if !ok {
		return
	}
	if planID == 0 {
		current, err := s.app.Plans.Current(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		planID = current.ID
	}
	var body struct {
		PreserveExisting bool `json:"preserveExisting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "BadRequest")
		return
	}
	l, err := s.app.Groceries.Synthesize(r.Context(), planID, grocery.SynthesizeOptions{
		PreserveExisting: body.PreserveExisting,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleAddManualItem(w http.ResponseWriter, r *http.Request) {
	listID, err := strconv.ParseInt(r.PathValue("listId"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid list id", "BadRequest")
		return
	}
	var body struct {
		Name     string `json:"name"`
		Quantity string `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid item", "BadRequest")
		return
	}
	l, err := s.app.Groceries.AddManualItem(r.Context(), listID, body.Name, body.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleCheckItem(w http.ResponseWriter, r *http.Request) {
	listID, err := strconv.ParseInt(r.PathValue("listId"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid list id", "BadRequest")
		return
	}
	var body struct {
		Checked bool `json:"checked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "BadRequest")
		return
	}
	l, err := s.app.Groceries.SetItemChecked(r.Context(), listID, r.PathValue("itemId"), body.Checked)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleOrganizeGroceries(w http.ResponseWriter, r *http.Request) {
	listID, err := strconv.ParseInt(r.PathValue("listId"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid list id", "BadRequest")
		return
	}
	list, err := s.app.Groceries.Get(r.Context(), listID)
	if err != nil {
		writeError(w, err)
		return
	}
	var items []grocery.Item
	for _, sec := range list.Sections {
		items = append(items, sec.Items...)
	}
	excludeChecked := r.URL.Query().Get("excludeChecked") == "true"
	sections := grocery.OrganizeByDepartment(items, excludeChecked, nil)
	writeJSON(w, http.StatusOK, sections)
}

// --- chat ---

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	messages, err := s.app.Chat.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handlePostChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid chat message", "BadRequest")
		return
	}
	if body.Role == "" {
		body.Role = "user"
	}
	m, err := s.app.Chat.Append(r.Context(), body.Role, body.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// --- helpers ---

// planID parses the {id} path segment; "current" and "0" both mean the
// current plan.
func (s *Server) planID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	if raw == "current" || raw == "0" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid plan id", "BadRequest")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

type errorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSONError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, errorPayload{Error: message, Kind: kind})
}

// writeError maps core errors to structured responses. Lookup failures are
// client-correctable stale references, not server bugs.
func writeError(w http.ResponseWriter, err error) {
	var genErr *generation.Error
	switch {
	case errors.Is(err, plan.ErrPlanNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), "PlanNotFound")
	case errors.Is(err, plan.ErrMealNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), "MealNotFound")
	case errors.Is(err, plan.ErrNoActivePlan):
		writeJSONError(w, http.StatusConflict, err.Error(), "NoActivePlan")
	case errors.Is(err, plan.ErrStaleSnapshot):
		writeJSONError(w, http.StatusConflict, err.Error(), "StaleSnapshot")
	case errors.Is(err, grocery.ErrListNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), "GroceryListNotFound")
	case errors.Is(err, meal.ErrInvalidMealData):
		writeJSONError(w, http.StatusBadRequest, err.Error(), "InvalidMealData")
	case errors.As(err, &genErr):
		writeJSONError(w, http.StatusBadGateway, genErr.Guidance(), string(genErr.Kind))
	default:
		log.Printf("Internal error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error", "Internal")
	}
}
