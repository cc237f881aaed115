// Package script implements the per-iteration work of a virtual user: an
// HTTP request rendered from templates, followed by checks on the response.
package script

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxBodyBytes caps how much of a response body is kept for checks.
const maxBodyBytes = 1 << 20

// Request is one HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response is what checks look at. Non-2xx statuses are normal responses.
type Response struct {
	Status   int
	Duration time.Duration
	Body     []byte
}

// Sender performs requests. It returns an error only when no response was
// received (dial failure, timeout, cancellation).
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// HTTPSender is a Sender backed by a pooled net/http client.
type HTTPSender struct {
	Client *http.Client
}

// NewHTTPSender returns a sender whose requests never outlive timeout.
func NewHTTPSender(timeout time.Duration, insecure bool) *HTTPSender {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPSender{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: t,
		},
	}
}

func (s *HTTPSender) Send(ctx context.Context, r Request) (Response, error) {
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		return Response{Duration: time.Since(start)}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	res := Response{
		Status:   resp.StatusCode,
		Duration: time.Since(start),
		Body:     b,
	}
	if err != nil {
		return res, fmt.Errorf("read body: %w", err)
	}
	return res, nil
}
