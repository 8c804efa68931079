package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"example.com/twotruths/internal/store"
)

const (
	minPasswordLen = 8
	maxNameLen     = 40
	historyLimit   = 20
)

type UserRepo interface {
	Create(ctx context.Context, u store.User) error
	GetByEmail(ctx context.Context, email string) (store.User, error)
	GetByID(ctx context.Context, id string) (store.User, error)
}

type StatsRepo interface {
	InitForUser(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (store.PlayerStats, error)
	RecentResults(ctx context.Context, userID string, limit int) ([]store.GameResult, error)
}

type TokenIssuer interface {
	Issue(userID, displayName string) (string, error)
}

// AuthHandler serves accounts and player statistics. Users and Stats may be
// nil when no database is configured; only Guest works then.
type AuthHandler struct {
	Users UserRepo
	Stats StatsRepo
	Auth  TokenIssuer
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type GuestRequest struct {
	DisplayName string `json:"displayName"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
}

type StatsResponse struct {
	Wins           int `json:"wins"`
	Losses         int `json:"losses"`
	LedgerVerified int `json:"ledgerVerified"`
}

type MeResponse struct {
	ID          string        `json:"id"`
	Email       string        `json:"email,omitempty"`
	DisplayName string        `json:"displayName"`
	Guest       bool          `json:"guest"`
	CreatedAt   *time.Time    `json:"createdAt,omitempty"`
	Stats       StatsResponse `json:"stats"`
}

type GameResponse struct {
	SessionID     string    `json:"sessionId"`
	Won           bool      `json:"won"`
	Verification  string    `json:"verification"`
	Algorithm     string    `json:"algorithm"`
	Commitment    string    `json:"commitment,omitempty"`
	LedgerAddress string    `json:"ledgerAddress,omitempty"`
	Lie           string    `json:"lie"`
	Answer        string    `json:"answer"`
	FinishedAt    time.Time `json:"finishedAt"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)

	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email, password and displayName are required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "bad_request", "password must be at least 8 chars")
		return
	}
	if len(req.DisplayName) > maxNameLen {
		writeError(w, http.StatusBadRequest, "bad_request", "displayName is too long")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to hash password")
		return
	}

	userID := uuid.NewString()
	u := store.User{
		ID:           userID,
		Email:        req.Email,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
	}

	if err := h.Users.Create(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_taken", "email already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to create user")
		return
	}

	_ = h.Stats.InitForUser(r.Context(), userID)

	w.WriteHeader(http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	u, err := h.Users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	token, err := h.Auth.Issue(u.ID, u.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token, UserID: u.ID})
}

// Guest issues a token for an anonymous player. Guest rounds are recorded
// under the generated id but the account cannot log in again.
func (h *AuthHandler) Guest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req GuestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = "guest"
	}
	if len(name) > maxNameLen {
		writeError(w, http.StatusBadRequest, "bad_request", "displayName is too long")
		return
	}

	userID := "guest-" + uuid.NewString()
	token, err := h.Auth.Issue(userID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{AccessToken: token, UserID: userID})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing auth context")
		return
	}

	resp := MeResponse{ID: claims.UserID, DisplayName: claims.DisplayName, Guest: true}
	if h.Users != nil {
		u, err := h.Users.GetByID(r.Context(), claims.UserID)
		switch {
		case err == nil:
			resp.Email = u.Email
			resp.DisplayName = u.DisplayName
			resp.Guest = false
			resp.CreatedAt = &u.CreatedAt
		case !errors.Is(err, store.ErrUserNotFound):
			writeError(w, http.StatusInternalServerError, "internal", "failed to load user")
			return
		}
	}

	if h.Stats != nil {
		st, err := h.Stats.Get(r.Context(), claims.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to load stats")
			return
		}
		resp.Stats = StatsResponse{Wins: st.Wins, Losses: st.Losses, LedgerVerified: st.LedgerVerified}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Games lists the caller's most recent resolved rounds.
func (h *AuthHandler) Games(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing auth context")
		return
	}

	out := []GameResponse{}
	if h.Stats != nil {
		results, err := h.Stats.RecentResults(r.Context(), claims.UserID, historyLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to load games")
			return
		}
		for _, g := range results {
			out = append(out, GameResponse{
				SessionID:     g.SessionID,
				Won:           g.Won,
				Verification:  g.Verification,
				Algorithm:     g.Algorithm,
				Commitment:    g.Commitment,
				LedgerAddress: g.LedgerAddress,
				Lie:           g.Lie,
				Answer:        g.Answer,
				FinishedAt:    g.FinishedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// RegisterRoutes mounts the account endpoints. Register and Login need a
// user store; the rest work for guests too.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, tokens TokenVerifier) {
	mux.HandleFunc("/api/auth/guest", h.Guest)
	if h.Users != nil && h.Stats != nil {
		mux.HandleFunc("/api/auth/register", h.Register)
		mux.HandleFunc("/api/auth/login", h.Login)
	}
	authed := AuthMiddleware(tokens)
	mux.Handle("/api/me", authed(http.HandlerFunc(h.Me)))
	mux.Handle("/api/me/games", authed(http.HandlerFunc(h.Games)))
}
