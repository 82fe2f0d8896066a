// Package whisper provides whisper.cpp-backed speech-to-text.
//
// Two transcribers are available:
//
//   - Native runs inference in-process through the CGO bindings.
//   - Server uploads each WAV file to a running whisper-server binary, which
//     exposes a REST API at POST /inference.
//
// Usage:
//
//	t, err := whisper.NewServer("http://localhost:8080", whisper.WithServerLanguage("fr"))
//	res, err := t.Transcribe(ctx, "/tmp/domainscribe/utterance_0001.wav")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/domainscribe/pkg/provider/stt"
)

const defaultLanguage = "en"

var _ stt.Transcriber = (*Server)(nil)

// ServerOption is a functional option for configuring a Server transcriber.
type ServerOption func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g. "base.en", "small"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithServerLanguage sets the language code sent with each request. Defaults
// to "en".
func WithServerLanguage(lang string) ServerOption {
	return func(s *Server) { s.language = lang }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) { s.httpClient = c }
}

// Server implements stt.Transcriber against a whisper.cpp HTTP server.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer returns a Server transcriber for the whisper.cpp server at
// serverURL (e.g. "http://localhost:8080").
func NewServer(serverURL string, opts ...ServerOption) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe uploads the WAV file at path as multipart/form-data and returns
// the text of the JSON response.
func (s *Server) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &stt.TranscriptionError{Path: path, Err: err}
	}

	start := time.Now()
	text, lang, err := s.infer(ctx, filepath.Base(path), data)
	if err != nil {
		return nil, &stt.TranscriptionError{Path: path, Err: err}
	}
	if lang == "" {
		lang = s.language
	}
	return &stt.Result{
		Text:       text,
		Language:   &lang,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// infer POSTs the file to the /inference endpoint. It returns the
// whitespace-normalised text and the detected language when the server
// reports one.
func (s *Server) infer(ctx context.Context, name string, wavData []byte) (string, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wavData); err != nil {
		return "", "", fmt.Errorf("write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        s.language,
		"model":           s.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", "", fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response body: %w", err)
	}
	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", "", fmt.Errorf("parse JSON response: %w", err)
	}
	return strings.Join(strings.Fields(result.Text), " "), result.Language, nil
}
