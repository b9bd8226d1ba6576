// Command feedsim is a standalone quote provider speaking the same HTTP
// protocol the engine's http feed client expects: API-key + TOTP session
// login, then authenticated quote and headline reads. It wraps the same
// random-walk generator the in-process sim feed uses, so the engine can be
// exercised end-to-end without provider credentials.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"marketpulse/internal/feed/simfeed"
)

type server struct {
	feed       *simfeed.Feed
	symbols    map[string]bool
	apiKey     string
	totpSecret string

	mu     sync.Mutex
	tokens map[string]bool
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting demo quote server...")

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	symbolsEnv := envOrDefault("FEEDSIM_SYMBOLS", "AAPL,MSFT")
	apiKey := envOrDefault("FEEDSIM_API_KEY", "demo-key")
	totpSecret := os.Getenv("FEEDSIM_TOTP_SECRET") // empty disables TOTP checks

	symbols := make(map[string]bool)
	for _, s := range strings.Split(symbolsEnv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols[s] = true
		}
	}
	if len(symbols) == 0 {
		log.Fatalf("[feedsim] no symbols configured via FEEDSIM_SYMBOLS")
	}
	log.Printf("[feedsim] serving %d symbols, totp %v", len(symbols), totpSecret != "")

	srv := &server{
		feed:       simfeed.New(time.Now().UnixNano()),
		symbols:    symbols,
		apiKey:     apiKey,
		totpSecret: totpSecret,
		tokens:     make(map[string]bool),
	}

	http.HandleFunc("POST /session", srv.handleSession)
	http.HandleFunc("GET /quote", srv.authed(srv.handleQuote))
	http.HandleFunc("GET /headlines", srv.authed(srv.handleHeadlines))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("api_key") != s.apiKey {
		http.Error(w, "bad api key", http.StatusUnauthorized)
		return
	}
	if s.totpSecret != "" && !totp.Validate(r.URL.Query().Get("totp"), s.totpSecret) {
		http.Error(w, "bad totp", http.StatusUnauthorized)
		return
	}

	token := newToken()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()

	log.Println("[feedsim] session issued")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if !s.symbols[symbol] {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	q, err := s.feed.FetchLatest(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(q)
}

func (s *server) handleHeadlines(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if !s.symbols[symbol] {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	headlines, err := s.feed.FetchHeadlines(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string][]string{"headlines": headlines})
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
