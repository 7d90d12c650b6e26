package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jmallard/commentcue/db"
	"github.com/jmallard/commentcue/telemetry"
	"github.com/jmallard/commentcue/youtubeapi"
)

// HandleCreate registers a subscription: a followed channel plus the comment
// to post on that channel's next upload. Requires a valid session cookie.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())

	claims, err := h.sessions.FromRequest(r)
	if err != nil {
		log.Warn("missing or invalid session", slog.Any("err", err))
		http.Redirect(w, r, "/index.html", http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	handle := r.FormValue("channel")
	comment := r.FormValue("comment")
	if handle == "" || comment == "" {
		http.Redirect(w, r, "/create.html?error=invalid_channel", http.StatusFound)
		return
	}

	ctx := r.Context()
	channelID, err := h.yt.ChannelIDByHandle(ctx, handle)
	if err != nil {
		if !errors.Is(err, youtubeapi.ErrNoChannel) {
			log.Error("channel lookup failed", slog.String("handle", handle), slog.Any("err", err))
		}
		http.Redirect(w, r, "/create.html?error=invalid_channel", http.StatusFound)
		return
	}

	// The newest existing video becomes the initial watermark so only uploads
	// after this point trigger the queued comment. A channel with no videos
	// yet gets an empty watermark, which is not an error.
	latest, err := h.yt.LatestVideoID(ctx, channelID)
	if err != nil {
		log.Error("latest video lookup failed", slog.String("channel", channelID), slog.Any("err", err))
		http.Redirect(w, r, "/create.html", http.StatusFound)
		return
	}

	if err := db.InsertChannel(ctx, h.db, channelID, handle, latest); err != nil {
		log.Error("channel insert failed", slog.Any("err", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := db.InsertComment(ctx, h.db, comment, claims.Subject, channelID); err != nil {
		log.Error("comment insert failed", slog.Any("err", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if telemetry.SubscriptionsMade != nil {
		telemetry.SubscriptionsMade.Inc()
	}
	log.Info("subscription created",
		slog.String("user", claims.Subject),
		slog.String("channel", channelID),
		slog.String("handle", handle))

	h.servePage(w, r, confirmationPage, map[string]string{
		placeholderChannelName: handle,
	})
}
