package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/billing"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/metrics"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/pipeline"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

const (
	accountHeader   = "X-Account"
	signatureHeader = "Stripe-Signature"

	// Room for multipart boundaries and small form fields on top of the
	// upload size bound.
	multipartOverhead = 1 << 20
	maxAccountLength  = 256
)

// --- Transcription ---

// handleTranscribe streams a multipart upload into the pipeline. The
// "account" form field must precede the "file" part to take effect; the
// X-Account header is the fallback.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		if r.ContentLength > s.maxUploadBytes+multipartOverhead {
			writeAppError(w, apperror.New(apperror.PayloadTooLarge, "upload exceeds the size limit").
				With("max_bytes", s.maxUploadBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected a multipart/form-data upload", nil)
		return
	}

	account := strings.TrimSpace(r.Header.Get(accountHeader))
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "invalid_request", `missing "file" part`, nil)
			return
		}
		if err != nil {
			s.writeMultipartError(w, err)
			return
		}

		switch part.FormName() {
		case "account":
			v, err := readField(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "invalid account field", nil)
				return
			}
			if v != "" {
				account = v
			}
		case "file":
			s.runTranscription(w, r, account, part)
			return
		default:
			_, _ = io.Copy(io.Discard, part)
		}
		_ = part.Close()
	}
}

func (s *Server) runTranscription(w http.ResponseWriter, r *http.Request, account string, part *multipart.Part) {
	defer func() { _ = part.Close() }()

	res, err := s.transcriber.Run(r.Context(), pipeline.Request{
		Account:  account,
		Filename: part.FileName(),
		Body:     part,
	})
	if res != nil && res.Job != nil {
		w.Header().Set("X-Job-ID", res.Job.ID)
		if res.Job.Tier != "" {
			w.Header().Set("X-Tier", res.Job.Tier)
		}
		if res.Job.Duration > 0 {
			w.Header().Set("X-Audio-Duration", strconv.FormatFloat(res.Job.Duration, 'f', 3, 64))
		}
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeAppError(w, apperror.New(apperror.PayloadTooLarge, "upload exceeds the size limit").
				With("max_bytes", s.maxUploadBytes))
			return
		}
		writeAppError(w, err)
		return
	}

	art := res.Artifact
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeFilename(art.Filename)))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Content)
}

func (s *Server) writeMultipartError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeAppError(w, apperror.New(apperror.PayloadTooLarge, "upload exceeds the size limit").
			With("max_bytes", s.maxUploadBytes))
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body", nil)
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxAccountLength+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxAccountLength {
		return "", fmt.Errorf("field longer than %d bytes", maxAccountLength)
	}
	return strings.TrimSpace(string(b)), nil
}

// sanitizeFilename strips characters that could break a Content-Disposition
// header value.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\' || r == '\r' || r == '\n':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "transcript"
	}
	return b.String()
}

// --- Billing ---

// handleBillingWebhook verifies and applies one Stripe event. A verified
// event is acknowledged with 200 even when applying it failed.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhookFailuresTotal.WithLabelValues("payload").Inc()
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, string(apperror.PayloadTooLarge), "webhook payload too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read payload", nil)
		return
	}

	ev, err := s.verifier.Verify(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if apperror.CodeOf(err) == apperror.SignatureInvalid {
			metrics.WebhookFailuresTotal.WithLabelValues("signature").Inc()
			s.logger.Warn("rejected billing webhook", "error", err)
			writeAppError(w, err)
			return
		}
		// Signed but undecodable: nothing to retry.
		metrics.WebhookFailuresTotal.WithLabelValues("decode").Inc()
		s.logger.Error("failed to decode billing event", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received", "outcome": "error"})
		return
	}

	outcome, err := s.events.Apply(r.Context(), ev)
	if err != nil {
		metrics.WebhookFailuresTotal.WithLabelValues("apply").Inc()
		s.logger.Error("failed to apply billing event", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received", "outcome": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received", "outcome": string(outcome)})
}

// --- Entitlements ---

type limitsResponse struct {
	MaxDurationSeconds float64 `json:"max_duration_seconds"`
	Unlimited          bool    `json:"unlimited"`
	Watermark          bool    `json:"watermark"`
}

type entitlementResponse struct {
	Account   string         `json:"account"`
	Tier      string         `json:"tier"`
	Implicit  bool           `json:"implicit"` // no record; the free tier applies
	EventID   string         `json:"event_id,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	Limits    limitsResponse `json:"limits"`
}

type tierResponse struct {
	Name string `json:"name"`
	limitsResponse
}

func limitsOf(e tier.Entry) limitsResponse {
	return limitsResponse{
		MaxDurationSeconds: e.MaxDurationSeconds(),
		Unlimited:          e.Unlimited,
		Watermark:          e.Watermark,
	}
}

func (s *Server) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	account := store.NormalizeAccount(chi.URLParam(r, "account"))
	if account == "" || len(account) > maxAccountLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid account", nil)
		return
	}

	rec, err := s.store.GetTierRecord(r.Context(), account)
	if err != nil {
		s.logger.Error("failed to read tier record", "account", account, "error", err)
		writeAppError(w, apperror.Wrap(apperror.Internal, err, "could not read entitlement"))
		return
	}

	resp := entitlementResponse{Account: account, Tier: tier.Free, Implicit: true}
	if rec != nil {
		resp.Tier = s.policy.Resolve(rec.Tier)
		resp.Implicit = false
		resp.EventID = rec.EventID
		updated := rec.UpdatedAt
		resp.UpdatedAt = &updated
	}
	resp.Limits = limitsOf(s.policy.LimitFor(resp.Tier))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	entries := s.policy.Entries()
	out := make([]tierResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, tierResponse{Name: e.Name, limitsResponse: limitsOf(e)})
	}
	writeJSON(w, http.StatusOK, out)
}

var _ EventSink = (*billing.Ingestor)(nil)
var _ Transcriber = (*pipeline.Pipeline)(nil)
