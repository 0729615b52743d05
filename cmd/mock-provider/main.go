// mock-provider emulates the Twilio WhatsApp Messages API for local
// development: it validates requests the way Twilio does, answers with a
// queued message, then plays a signed status-callback sequence
// (queued, sent, delivered, optionally read) against the relay.
package main

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID" default:"mock_sid"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" default:"mock_token"`
	Port       string `envconfig:"PORT" default:"4010"`

	// fixed, round_robin or random over Outcomes.
	OutcomeMode string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string `envconfig:"MOCK_OUTCOMES" default:"delivered"`

	// Share of delivered messages that also get a read callback.
	ReadRate float64 `envconfig:"MOCK_READ_RATE" default:"0.6"`

	CallbackDelayMs int `envconfig:"MOCK_CALLBACK_DELAY_MS" default:"300"`
	CallbackRetries int `envconfig:"MOCK_CALLBACK_RETRIES" default:"3"`

	Outcomes      []string
	CallbackDelay time.Duration
}

type sendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

type server struct {
	cfg    config
	seq    uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
}

func main() {
	h := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(h).With("service", "mock-provider"))

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.CallbackDelay = time.Duration(cfg.CallbackDelayMs) * time.Millisecond

	s := &server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		client: &http.Client{Timeout: 5 * time.Second},
	}

	router := mux.NewRouter()
	router.HandleFunc("/2010-04-01/Accounts/{AccountSid}/Messages.json", s.handleSend).Methods(http.MethodPost)

	slog.Info("mock provider listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.cfg.AccountSID || pass != s.cfg.AuthToken {
		writeError(w, http.StatusUnauthorized, 20003, "Authentication Error")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, 21620, "Invalid form data")
		return
	}

	to := r.Form.Get("To")
	from := r.Form.Get("From")
	body := r.Form.Get("Body")
	switch {
	case to == "" || body == "":
		writeError(w, http.StatusBadRequest, 21602, "Missing required parameter")
		return
	case from == "":
		writeError(w, http.StatusBadRequest, 21606, "From is required")
		return
	case !strings.HasPrefix(to, "whatsapp:") || !strings.HasPrefix(from, "whatsapp:"):
		// The WhatsApp channel requires prefixed addresses on both sides.
		writeError(w, http.StatusBadRequest, 63007, "Channel address mismatch")
		return
	}

	outcome := s.nextOutcome()
	switch outcome {
	case "rate_limit":
		writeError(w, http.StatusTooManyRequests, 20429, "Too Many Requests")
		return
	case "server_error":
		writeError(w, http.StatusInternalServerError, 20500, "Internal Server Error")
		return
	}

	sid := fmt.Sprintf("SM%06d", atomic.AddUint64(&s.seq, 1))
	writeJSON(w, http.StatusCreated, sendResponse{Sid: sid, Status: "queued"})

	if cb := r.Form.Get("StatusCallback"); cb != "" {
		go s.playCallbacks(cb, sid, outcome)
	}
}

// playCallbacks posts the delivery lifecycle for one message. The sequence
// mirrors what Twilio emits for the WhatsApp channel.
func (s *server) playCallbacks(callbackURL, sid, outcome string) {
	post := func(status string, errorCode int) {
		form := url.Values{}
		form.Set("MessageSid", sid)
		form.Set("MessageStatus", status)
		if errorCode != 0 {
			form.Set("ErrorCode", strconv.Itoa(errorCode))
		}
		s.postCallback(callbackURL, form)
	}

	time.Sleep(s.cfg.CallbackDelay)
	post("queued", 0)
	time.Sleep(s.cfg.CallbackDelay)
	post("sent", 0)
	time.Sleep(s.cfg.CallbackDelay)

	switch outcome {
	case "failed":
		post("failed", 63016)
	case "undelivered":
		post("undelivered", 63024)
	default:
		post("delivered", 0)
		if s.roll() < s.cfg.ReadRate {
			time.Sleep(s.cfg.CallbackDelay)
			post("read", 0)
		}
	}
}

func (s *server) postCallback(callbackURL string, form url.Values) {
	sig := signature(s.cfg.AuthToken, callbackURL, form)

	for attempt := 0; attempt <= s.cfg.CallbackRetries; attempt++ {
		req, _ := http.NewRequest(http.MethodPost, callbackURL, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", sig)

		resp, err := s.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return
			}
		}
		slog.Warn("mock callback post retrying", "url", callbackURL, "attempt", attempt+1, "err", err)
		time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
	}
	slog.Error("mock callback post gave up", "url", callbackURL, "status", form.Get("MessageStatus"))
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.LoadUint64(&s.seq)
		return s.cfg.Outcomes[int(idx)%len(s.cfg.Outcomes)]
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	default:
		return s.cfg.Outcomes[0]
	}
}

func (s *server) roll() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func signature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	resp := sendResponse{Status: "failed", Message: msg}
	if code != 0 {
		resp.ErrorCode = &code
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"delivered"}
	}
	return out
}
