package api

import (
	"encoding/json"
	"net/http"
)

// sinkWriter adapts an http.ResponseWriter into a types.MessageSink for the
// TransportHTTPStream case: each
// Send writes one newline-delimited JSON frame and flushes immediately, so a
// long-lived streaming HTTP connection can carry offers, status updates, and
// run-task messages as they happen rather than being polled for.
type sinkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func newSinkWriter(w http.ResponseWriter) *sinkWriter {
	s := &sinkWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	s.enc = json.NewEncoder(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return s
}

func (s *sinkWriter) Send(v interface{}) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
