package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/pipeline"
	"github.com/ahandley/textline/internal/workflow"
)

// maxMediaBytes caps how much inbound media the webhook will pull from
// the provider's media URL.
const maxMediaBytes = 10 << 20

// OwnerResolver maps an inbound phone number to its owner key. The
// default treats each number as its own single-member household.
type OwnerResolver func(from string) domain.OwnerKey

func defaultResolver(from string) domain.OwnerKey {
	return domain.OwnerKey{HouseholdID: from}
}

// WebhookHandler receives inbound SMS/MMS callbacks from the messaging
// provider. Text goes through the conversation pipeline; attachments go
// through the extraction workflow.
type WebhookHandler struct {
	pipeline  *pipeline.Pipeline
	extractor *workflow.Extractor
	resolve   OwnerResolver
	media     *http.Client
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. extractor may be nil, in
// which case attachments are acknowledged and dropped.
func NewWebhookHandler(p *pipeline.Pipeline, extractor *workflow.Extractor, resolve OwnerResolver, logger *slog.Logger) *WebhookHandler {
	if resolve == nil {
		resolve = defaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		pipeline:  p,
		extractor: extractor,
		resolve:   resolve,
		media:     &http.Client{},
		logger:    logger,
	}
}

// ServeHTTP handles the provider's form-encoded POST. The response is
// always an empty TwiML document: replies go out through the messenger,
// and a non-2xx here would only trigger provider-side redelivery of a
// message we already handled.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	sid := r.FormValue("MessageSid")
	body := r.FormValue("Body")
	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))

	AddLogField(r.Context(), "message_sid", sid)
	owner := h.resolve(from)

	if numMedia > 0 && h.extractor != nil {
		h.handleMedia(w, r, owner, from, sid, body)
		return
	}

	result, err := h.pipeline.ProcessInbound(r.Context(), &pipeline.InboundMessage{
		Owner:     owner,
		Channel:   "sms",
		From:      from,
		Body:      body,
		MessageID: sid,
	})
	if err != nil {
		AddError(r.Context(), err)
	}
	if result != nil {
		AddLogField(r.Context(), "pipeline_status", string(result.Status))
	}
	writeTwiML(w)
}

func (h *WebhookHandler) handleMedia(w http.ResponseWriter, r *http.Request, owner domain.OwnerKey, from, sid, caption string) {
	mediaURL := r.FormValue("MediaUrl0")
	data, err := h.fetchMedia(r, mediaURL)
	if err != nil {
		AddError(r.Context(), fmt.Errorf("media fetch: %w", err))
		writeTwiML(w)
		return
	}

	filename := path.Base(mediaURL)
	if filename == "." || filename == "/" {
		filename = sid
	}
	if _, err := h.extractor.Run(r.Context(), &workflow.ExtractionRequest{
		Owner:    owner,
		Channel:  "sms",
		ReplyTo:  from,
		Media:    data,
		Filename: filename,
		Caption:  caption,
	}); err != nil {
		AddError(r.Context(), err)
	}
	writeTwiML(w)
}

func (h *WebhookHandler) fetchMedia(r *http.Request, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("no media URL in callback")
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.media.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media URL returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
}
