package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/assessor/internal/model"
)

type createTokenRequest struct {
	Label string `json:"label"`
}

type createTokenResponse struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

func (h *Handler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.store.ListAPITokens()
	if err != nil {
		slog.Error("failed to list tokens", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tokens == nil {
		tokens = []model.APIToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label required")
		return
	}

	token, err := h.store.CreateAPIToken(req.Label)
	if err != nil {
		slog.Error("failed to create token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	slog.Info("created API token via admin", "label", req.Label)
	writeJSON(w, http.StatusCreated, createTokenResponse{Label: req.Label, Token: token})
}

func (h *Handler) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "tokenID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid token ID")
		return
	}

	err = h.store.RevokeAPIToken(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		slog.Error("failed to revoke token", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	slog.Info("revoked API token", "id", id)
	w.WriteHeader(http.StatusNoContent)
}
