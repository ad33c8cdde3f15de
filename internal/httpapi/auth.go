package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/service"
)

// requireAuth resolves the bearer token into an actor. With roles given, the
// actor must hold one of them.
func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(authorization) < len("bearer ") || !strings.EqualFold(authorization[:len("bearer ")], "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			actor, err := a.service.ParseToken(strings.TrimSpace(authorization[len("bearer "):]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, err := a.service.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.service.ListAccounts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": accounts})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}
