package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"quizarena/internal/app"
	"quizarena/internal/domain"
)

// LeaderboardSource computes a ranked tournament view; the serve command
// plugs in either the service directly or a cache in front of it.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, tournamentID uuid.UUID, mode app.RankMode) ([]domain.RankedEntry, error)
}

// Handler exposes the quiz and tournament use cases over JSON. Every
// response is 200 with an envelope; clients dispatch on the kind field.
type Handler struct {
	identity     *app.IdentityService
	tournaments  *app.TournamentService
	quizzes      *app.QuizService
	leaderboards LeaderboardSource
}

func NewHandler(identity *app.IdentityService, tournaments *app.TournamentService, quizzes *app.QuizService, leaderboards LeaderboardSource) *Handler {
	return &Handler{
		identity:     identity,
		tournaments:  tournaments,
		quizzes:      quizzes,
		leaderboards: leaderboards,
	}
}

// Routes registers every endpoint on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/register", h.register)
	mux.HandleFunc("POST /api/login", h.login)
	mux.HandleFunc("GET /api/dashboard", h.dashboard)

	mux.HandleFunc("GET /api/tournaments", h.listTournaments)
	mux.HandleFunc("POST /api/tournaments", h.createTournament)
	mux.HandleFunc("GET /api/tournaments/{id}", h.tournament)
	mux.HandleFunc("POST /api/tournaments/{id}/attempts", h.startAttempt)
	mux.HandleFunc("POST /api/attempts/{id}/submit", h.submitAttempt)
	mux.HandleFunc("GET /api/tournaments/{id}/leaderboard", h.tournamentLeaderboard)
	mux.HandleFunc("GET /api/tournaments/{id}/prizes", h.prizes)
	mux.HandleFunc("GET /api/tournaments/{id}/winners", h.winners)
	mux.HandleFunc("POST /api/tournaments/{id}/questions", h.importQuestions)
	mux.HandleFunc("POST /api/tournaments/{id}/awards", h.awardPrizes)
	mux.HandleFunc("GET /api/leaderboards/active", h.activeLeaderboards)

	mux.HandleFunc("GET /api/items/{id}/questions/{index}", h.itemQuestion)
	mux.HandleFunc("POST /api/items/{id}/submit", h.submitQuiz)
	mux.HandleFunc("GET /api/items/{id}/leaderboard", h.itemLeaderboard)
}

// credential pulls identity material off the request. The gateway in front
// of the service verifies tokens and forwards the subject in headers.
func credential(r *http.Request) app.Credential {
	cred := app.Credential{
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Path:       r.URL.Path,
	}
	if raw := r.Header.Get("X-User-ID"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			cred.UserID = &id
		}
	}
	if raw := r.Header.Get("X-Guest-ID"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			cred.GuestID = &id
		}
	}
	return cred
}

func writeJSON(w http.ResponseWriter, env app.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("write response: %v", err)
	}
}

func fail(w http.ResponseWriter, err error) {
	if !app.KnownError(err) {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, app.Fail(err))
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	user, merged, err := h.identity.Register(r.Context(), req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Registration successful.", map[string]interface{}{
		"user":         user,
		"mergedGuests": merged,
	}))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	user, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Login successful.", user))
}

func (h *Handler) createTournament(w http.ResponseWriter, r *http.Request) {
	var req domain.Tournament
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	t, err := h.tournaments.CreateTournament(r.Context(), &req)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Tournament created.", t))
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	p, err := h.identity.Resolve(r.Context(), credential(r), false)
	if err != nil {
		fail(w, err)
		return
	}
	quizzes, err := h.quizzes.Catalog(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	tournaments, err := h.tournaments.Tournaments(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	data := map[string]interface{}{
		"quizzes":     quizzes,
		"tournaments": tournaments,
	}
	if p.Valid() {
		data["participantId"] = p.Key()
		data["displayName"] = p.DisplayName()
	}
	writeJSON(w, app.OK("Dashboard loaded.", data))
}

func (h *Handler) listTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := h.tournaments.Tournaments(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Tournaments loaded.", tournaments))
}

func (h *Handler) tournament(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	t, err := h.tournaments.Tournament(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Tournament loaded.", t))
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	p, err := h.identity.Resolve(r.Context(), credential(r), true)
	if err != nil {
		fail(w, err)
		return
	}
	started, err := h.tournaments.StartAttempt(r.Context(), p, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Attempt started.", started))
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	p, err := h.identity.Resolve(r.Context(), credential(r), true)
	if err != nil {
		fail(w, err)
		return
	}
	var req struct {
		Answers []app.Answer `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	result, err := h.tournaments.SubmitAttempt(r.Context(), p, id, req.Answers)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Attempt submitted.", result))
}

func (h *Handler) tournamentLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	mode := app.ParseRankMode(r.URL.Query().Get("mode"))
	entries, err := h.leaderboards.Leaderboard(r.Context(), id, mode)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Leaderboard loaded.", entries))
}

func (h *Handler) activeLeaderboards(w http.ResponseWriter, r *http.Request) {
	mode := app.ParseRankMode(r.URL.Query().Get("mode"))
	boards, err := h.tournaments.ActiveLeaderboards(r.Context(), mode)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Active leaderboards loaded.", boards))
}

func (h *Handler) prizes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	prizes, err := h.tournaments.Prizes(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Prizes loaded.", prizes))
}

func (h *Handler) winners(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	winners, err := h.tournaments.Winners(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Winners loaded.", winners))
}

func (h *Handler) importQuestions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	var req struct {
		Questions []*domain.Question `json:"questions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	imported, err := h.tournaments.ImportQuestions(r.Context(), id, req.Questions)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Questions imported.", map[string]int{"imported": imported}))
}

func (h *Handler) awardPrizes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	var req struct {
		PrizeType domain.PrizeType `json:"prizeType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	if req.PrizeType == "" {
		req.PrizeType = domain.PrizeOverall
	}
	awarded, err := h.tournaments.AwardPrizes(r.Context(), id, req.PrizeType)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Prizes awarded.", map[string]int{"awarded": awarded}))
}

func (h *Handler) itemQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	view, err := h.quizzes.Question(r.Context(), id, index)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Question loaded.", view))
}

func (h *Handler) submitQuiz(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	p, err := h.identity.Resolve(r.Context(), credential(r), true)
	if err != nil {
		fail(w, err)
		return
	}
	var req struct {
		Answers    []app.Answer `json:"answers"`
		StartFresh bool         `json:"startFresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	result, err := h.quizzes.SubmitAnswers(r.Context(), p, id, req.Answers, req.StartFresh)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Answers submitted.", result))
}

func (h *Handler) itemLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, domain.ErrValidation)
		return
	}
	entries, err := h.quizzes.ItemLeaderboard(r.Context(), id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, app.OK("Leaderboard loaded.", entries))
}
