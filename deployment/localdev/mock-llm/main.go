// Command mock-llm serves a canned Messages API response so ds-analyzer can
// be exercised locally without a hosted completion service.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type messageRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const narrative = `### Summary
The agent lost contact with the manager on port 4120 and several heartbeats failed.

### Severity
high

### Root Cause
- Outbound traffic from the agent to the manager heartbeat port is being dropped.

### Recommendations
- Verify the firewall allows TCP 4120 from the agent to the manager.
- Run "dsa_control -m" to force a heartbeat once connectivity is restored.
`

func main() {
	addr := ":8090"
	if v := os.Getenv("MOCK_LLM_ADDR"); v != "" {
		addr = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Content
		text := narrative
		if !strings.Contains(prompt, "4120") {
			text = fmt.Sprintf("### Summary\nNo connectivity failures in the supplied logs (%d prompt characters reviewed).\n\n### Severity\nlow\n", len(prompt))
		}
		writeJSON(w, map[string]any{
			"id":          fmt.Sprintf("msg_mock_%d", time.Now().UnixNano()),
			"type":        "message",
			"role":        "assistant",
			"model":       req.Model,
			"content":     []contentBlock{{Type: "text", Text: text}},
			"stop_reason": "end_turn",
		})
	})

	logger := log.New(log.Writer(), "llm-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Println("listening on " + addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
