package httpapi

import (
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/observability"
	"github.com/ent0n29/clinicguard/internal/policy"
)

const (
	welcomePrompt     = "Welcome to ClinicGuard AI. Please leave your message after the beep."
	recordAction      = "/twilio/voice"
	recordMaxLengthS  = 60
	twimlContentType  = "application/xml"
	maxTwilioFormSize = 64 << 10
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     string       `xml:"Say,omitempty"`
	Play    string       `xml:"Play,omitempty"`
	Record  *twimlRecord `xml:"Record,omitempty"`
}

type twimlRecord struct {
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	MaxLength int    `xml:"maxLength,attr"`
}

func nextRecording() *twimlRecord {
	return &twimlRecord{Action: recordAction, Method: http.MethodPost, MaxLength: recordMaxLengthS}
}

func writeTwiML(w http.ResponseWriter, resp twimlResponse) {
	body, err := xml.MarshalIndent(resp, "", "    ")
	if err != nil {
		http.Error(w, "failed to render twiml", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", twimlContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func parseTwilioForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxTwilioFormSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleTwilioAnswer greets the caller and asks Twilio to record the first utterance.
func (s *Server) handleTwilioAnswer(w http.ResponseWriter, r *http.Request) {
	if !parseTwilioForm(w, r) {
		return
	}
	if callSid := strings.TrimSpace(r.PostForm.Get("CallSid")); callSid != "" && s.calls != nil {
		if _, err := s.calls.Start(r.Context(), callSid, r.PostForm.Get("From")); err != nil {
			s.respondCallError(w, r, err)
			return
		}
	}
	writeTwiML(w, twimlResponse{Say: welcomePrompt, Record: nextRecording()})
}

// handleTwilioVoice answers a finished recording and records the next one.
func (s *Server) handleTwilioVoice(w http.ResponseWriter, r *http.Request) {
	if !parseTwilioForm(w, r) {
		return
	}
	callSid := strings.TrimSpace(r.PostForm.Get("CallSid"))
	if callSid == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	recordingURL := strings.TrimSpace(r.PostForm.Get("RecordingUrl"))
	if recordingURL == "" {
		http.Error(w, "RecordingUrl is required", http.StatusBadRequest)
		return
	}
	if s.calls == nil || s.recordings == nil {
		http.Error(w, "call handling not configured", http.StatusServiceUnavailable)
		return
	}
	// Twilio plays the reply from /audio, so there is nothing to answer with.
	if s.audio == nil {
		http.Error(w, "reply audio not configured", http.StatusServiceUnavailable)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	log := s.log.WithFields(logrus.Fields{"call_id": callSid, "caller": policy.MaskPhone(from)})

	started := time.Now()
	recording, contentType, err := s.recordings.Fetch(r.Context(), recordingURL)
	s.metrics.ObserveTurnStage(observability.StageDownload, time.Since(started))
	if err != nil {
		s.metrics.ProviderError("twilio", "recording_download")
		log.WithError(err).Error("failed to download recording")
		http.Error(w, "failed to download recording", http.StatusInternalServerError)
		return
	}

	res, err := s.calls.HandleRecording(r.Context(), callSid, recording, contentType, from)
	if err != nil {
		s.respondCallError(w, r, err)
		return
	}
	if res.ReplyFile == "" {
		log.Error("reply audio was not stored")
		http.Error(w, "reply audio not configured", http.StatusServiceUnavailable)
		return
	}
	log.WithField("reply", policy.Preview(res.Reply)).Info("reply ready")

	writeTwiML(w, twimlResponse{
		Play:   s.cfg.PublicURL + "/audio/" + res.ReplyFile,
		Record: nextRecording(),
	})
}

// handleTwilioEnd runs call teardown. Repeated callbacks are harmless.
func (s *Server) handleTwilioEnd(w http.ResponseWriter, r *http.Request) {
	if !parseTwilioForm(w, r) {
		return
	}
	callSid := strings.TrimSpace(r.PostForm.Get("CallSid"))
	if callSid == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}
	if s.calls == nil {
		http.Error(w, "call handling not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := s.calls.End(r.Context(), callSid); err != nil {
		s.respondCallError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
