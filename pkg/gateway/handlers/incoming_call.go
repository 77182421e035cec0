package handlers

import (
	"log/slog"
	"net/http"

	"github.com/voicegw/voicebridge/pkg/gateway/config"
	"github.com/voicegw/voicebridge/pkg/gateway/mw"
	"github.com/voicegw/voicebridge/pkg/gateway/sessions"
	"github.com/voicegw/voicebridge/pkg/gateway/twilio"
)

// IncomingCallHandler answers the telephony provider's call webhook with
// TwiML that connects the call to the media-stream socket.
type IncomingCallHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *sessions.Registry
}

func (h IncomingCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	caller := r.FormValue("From")

	if callSID != "" && h.Sessions != nil {
		h.Sessions.Create(callSID, caller, h.Config.FirstMessage)
	}

	host := h.Config.PublicHost
	if host == "" {
		host = r.Host
	}

	if h.Logger != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		h.Logger.Info("incoming call",
			"request_id", reqID,
			"call", callSID,
			"caller", caller,
			"host", host)
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twilio.StreamTwiML(host, h.Config.FirstMessage, caller)))
}
