// Command mockupstream is a small downstream test double for Pylon: it
// echoes a JSON envelope for ordinary requests, and a handful of
// "data: ..." SSE events for requests carrying Accept: text/event-stream
// or a "stream": true JSON body, mirroring what a real LLM-style streaming
// API looks like from the proxy's side.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"
)

func main() {
	var addr string
	var name string
	var delayMS int
	var sseEvents int
	flag.StringVar(&addr, "addr", ":9001", "listen address")
	flag.StringVar(&name, "name", "mockupstream", "service name")
	flag.IntVar(&delayMS, "delay-ms", 0, "artificial delay per request")
	flag.IntVar(&sseEvents, "sse-events", 5, "number of SSE events to emit per streaming request")
	flag.Parse()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delayMS > 0 {
			time.Sleep(time.Duration(delayMS) * time.Millisecond)
		}
		if isStreamRequest(r) {
			serveSSE(w, name, sseEvents)
			return
		}
		serveJSON(w, r, name)
	})

	srv := &http.Server{Addr: addr, Handler: h}
	fmt.Printf("%s listening on %s\n", name, addr)
	_ = srv.ListenAndServe()
}

func isStreamRequest(r *http.Request) bool {
	if strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		return true
	}
	var body struct {
		Stream bool `json:"stream"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body.Stream
}

func serveJSON(w http.ResponseWriter, r *http.Request, name string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"service": name,
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   r.URL.RawQuery,
	})
}

func serveSSE(w http.ResponseWriter, name string, count int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	for i := 0; i < count; i++ {
		payload, _ := json.Marshal(map[string]any{"service": name, "seq": i})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
