package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/loopreach/social-sync/internal/errors"
	"github.com/loopreach/social-sync/internal/middleware"
	"github.com/loopreach/social-sync/internal/model"
	"github.com/loopreach/social-sync/internal/repository"
	"github.com/loopreach/social-sync/internal/service"
)

// ConnectHandler serves the OAuth handshake endpoints and the connection
// management endpoints built on top of the stored credentials.
type ConnectHandler struct {
	handshakeService *service.HandshakeService
	credRepo         repository.CredentialRepository
}

func NewConnectHandler(handshakeService *service.HandshakeService, credRepo repository.CredentialRepository) *ConnectHandler {
	return &ConnectHandler{
		handshakeService: handshakeService,
		credRepo:         credRepo,
	}
}

func (h *ConnectHandler) ConnectionRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListConnections)
	r.Get("/{provider}", h.GetConnection)
	r.Delete("/{provider}", h.Disconnect)

	return r
}

// BeginAuth issues an authorization URL for the provider. The caller redirects
// the user to it; the state token ties the eventual callback back to them.
func (h *ConnectHandler) BeginAuth(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.parseProvider(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	authURL, state, err := h.handshakeService.BeginAuth(r.Context(), userID, provider)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.String()).Msg("failed to begin handshake")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authUrl": authURL,
		"state":   state,
	})
}

// Callback completes the handshake. It is hit by the provider's redirect, so
// there is no API key on the request; the state token is the proof of origin.
func (h *ConnectHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.parseProvider(w, r)
	if !ok {
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		log.Warn().Str("error", errMsg).Str("provider", provider.String()).Msg("authorization denied by provider")
		writeError(w, apperrors.New(apperrors.ErrCodeProviderExchangeFailed, "authorization denied: "+errMsg))
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	cred, err := h.handshakeService.CompleteAuth(r.Context(), provider, code, state)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.String()).Msg("handshake callback failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connection": formatConnection(cred),
	})
}

func (h *ConnectHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	creds, err := h.credRepo.FindByUser(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list connections")
		writeError(w, apperrors.Database(err))
		return
	}

	connections := make([]map[string]any, len(creds))
	for i, cred := range creds {
		connections[i] = formatConnection(cred)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": connections,
	})
}

func (h *ConnectHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.parseProvider(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	cred, err := h.credRepo.FindByProviderAndUser(r.Context(), provider, userID)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.String()).Msg("failed to load connection")
		writeError(w, apperrors.Database(err))
		return
	}
	if cred == nil {
		writeError(w, apperrors.NotFound("connection"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connection": formatConnection(cred),
	})
}

// Disconnect marks the connection as disconnected. The row and its metrics
// snapshot are kept so history survives a re-connect.
func (h *ConnectHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.parseProvider(w, r)
	if !ok {
		return
	}
	userID := middleware.UserID(r.Context())

	cred, err := h.credRepo.FindByProviderAndUser(r.Context(), provider, userID)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.String()).Msg("failed to load connection")
		writeError(w, apperrors.Database(err))
		return
	}
	if cred == nil {
		writeError(w, apperrors.NotFound("connection"))
		return
	}

	if err := h.credRepo.SetDisconnected(r.Context(), cred.ID); err != nil {
		log.Error().Err(err).Str("provider", provider.String()).Msg("failed to disconnect")
		writeError(w, apperrors.Database(err))
		return
	}

	log.Info().Str("provider", provider.String()).Str("userId", userID).Msg("account disconnected")

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ConnectHandler) parseProvider(w http.ResponseWriter, r *http.Request) (model.Provider, bool) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, apperrors.ValidationError("unknown provider"))
		return "", false
	}
	return provider, true
}
