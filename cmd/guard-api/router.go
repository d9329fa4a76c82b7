package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/service"
	"github.com/MrEthical07/goGuard/middleware"
)

type (
	loginRequest struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}

	userView struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	loginData struct {
		User         userView `json:"user"`
		AccessToken  string   `json:"access_token"`
		RefreshToken string   `json:"refresh_token"`
	}

	response struct {
		StatusCode int    `json:"status_code"`
		Message    string `json:"message"`
		Data       any    `json:"data,omitempty"`
	}

	api struct {
		engine *goGuard.Engine
		logger *slog.Logger
	}
)

func newRouter(engine *goGuard.Engine, logger *slog.Logger, metrics http.Handler) http.Handler {
	a := &api{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Admission(engine, nil))

		r.Post("/auth/login", a.login)
		r.Get("/auth/logout", a.logout)
		r.Post("/auth/logout", a.logout)
		r.Post("/others", a.others)
	})

	return r
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := middleware.StatusFor(err)
	if status >= http.StatusInternalServerError {
		service.Report(r.Context(), a.logger, "request failed", err)
	}
	middleware.WriteError(w, err)
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Ping(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, response{StatusCode: http.StatusOK, Message: "ok"})
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	var req loginRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			return req, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		req.RememberMe = r.PostForm.Get("remember_me") == "true"
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || req.Password == "" {
		return req, errors.New("username and password are required")
	}
	return req, nil
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(w, r)
	if err != nil {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, middleware.ErrorResponse{Detail: err.Error()})
		return
	}

	pair, err := a.engine.Login(r.Context(), req.Username, req.Password, req.RememberMe)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	user, err := a.engine.CurrentActiveUser(r.Context(), pair.AccessToken)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, response{
		StatusCode: http.StatusOK,
		Message:    "Login successful",
		Data: loginData{
			User:         userView{ID: user.ID, Username: user.Username, Email: user.Email},
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
		},
	})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		a.fail(w, r, goGuard.ErrTokenInvalid)
		return
	}

	if err := a.engine.Logout(r.Context(), token); err != nil {
		a.fail(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, response{StatusCode: http.StatusOK, Message: "Logout successful"})
}

func (a *api) others(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		a.fail(w, r, goGuard.ErrTokenInvalid)
		return
	}

	if _, err := a.engine.CurrentActiveUser(r.Context(), token); err != nil {
		a.fail(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, response{StatusCode: http.StatusOK, Message: "others route attempt recorded"})
}
