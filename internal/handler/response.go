package handler

import (
	"net/http"
	"time"

	"github.com/loopreach/social-sync/internal/httputil"
	"github.com/loopreach/social-sync/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func formatConnection(cred *model.SocialCredential) map[string]any {
	conn := map[string]any{
		"provider":        cred.Provider,
		"externalId":      cred.ExternalID,
		"connected":       cred.Connected,
		"lastConnectedAt": cred.LastConnectedAt.Format(time.RFC3339),
	}
	if cred.PageID != nil {
		conn["pageId"] = *cred.PageID
	}
	return conn
}
