package script

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"stagerun/internal/profile"
	"stagerun/internal/stats"
)

// DefaultCheck is used when no checks are configured.
var DefaultCheck = Check{Name: "status is 2xx"}

// Check is one assertion on a response. Zero-valued fields are not checked;
// a check with nothing set passes on any 2xx status.
type Check struct {
	Name         string
	Status       int
	BodyContains string
	MaxDuration  time.Duration
}

func (c Check) passes(resp Response) bool {
	if c.Status != 0 {
		if resp.Status != c.Status {
			return false
		}
	} else if c.BodyContains == "" && c.MaxDuration == 0 {
		if resp.Status < 200 || resp.Status >= 300 {
			return false
		}
	}
	if c.BodyContains != "" && !strings.Contains(string(resp.Body), c.BodyContains) {
		return false
	}
	if c.MaxDuration > 0 && resp.Duration > c.MaxDuration {
		return false
	}
	return true
}

// RequestSpec is the templated form of the request an iteration sends.
type RequestSpec struct {
	Method  string
	BaseURL string
	Path    string
	Headers map[string]string
	Body    string
}

// HTTPScript sends one templated request per iteration and records one
// Outcome per check.
type HTTPScript struct {
	sender  Sender
	method  string
	url     *template.Template
	body    *template.Template
	headers map[string]*template.Template
	checks  []Check
	log     zerolog.Logger
}

var _ profile.Script = (*HTTPScript)(nil)

// NewHTTPScript compiles spec's templates. Template errors are returned here
// so they surface before the run starts.
func NewHTTPScript(sender Sender, spec RequestSpec, checks []Check, log zerolog.Logger) (*HTTPScript, error) {
	target, err := joinURL(spec.BaseURL, spec.Path)
	if err != nil {
		return nil, err
	}

	f := newFields()
	s := &HTTPScript{
		sender:  sender,
		method:  strings.ToUpper(spec.Method),
		headers: make(map[string]*template.Template, len(spec.Headers)),
		checks:  checks,
		log:     log,
	}
	if s.method == "" {
		s.method = "GET"
	}
	if len(s.checks) == 0 {
		s.checks = []Check{DefaultCheck}
	}

	if s.url, err = f.compile("url", target); err != nil {
		return nil, fmt.Errorf("url template: %w", err)
	}
	if s.body, err = f.compile("body", spec.Body); err != nil {
		return nil, fmt.Errorf("body template: %w", err)
	}
	for k, v := range spec.Headers {
		if s.headers[k], err = f.compile("header "+k, v); err != nil {
			return nil, fmt.Errorf("header %s template: %w", k, err)
		}
	}
	return s, nil
}

// Checks returns the checks applied to each response.
func (s *HTTPScript) Checks() []Check {
	return s.checks
}

// Iterate sends one request and returns one Outcome per check. The first
// Outcome carries the request marker; a request fails on a transport error
// or a status outside 200-399. A request that cannot be rendered is never
// sent, so its Outcomes carry no marker.
func (s *HTTPScript) Iterate(ctx context.Context, it profile.Iteration) []stats.Outcome {
	start := time.Now()

	req, err := s.render(it)
	if err != nil {
		s.log.Debug().Err(err).Int("vu", it.VU).Msg("render request")
		return s.failAll(start, time.Since(start), it.VU)
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		s.log.Debug().Err(err).Int("vu", it.VU).Str("url", req.URL).Msg("request failed")
		out := s.failAll(start, resp.Duration, it.VU)
		out[0].Request, out[0].RequestFailed = true, true
		return out
	}

	out := make([]stats.Outcome, len(s.checks))
	for i, c := range s.checks {
		out[i] = stats.Outcome{
			Timestamp: start,
			Duration:  resp.Duration,
			Success:   c.passes(resp),
			Label:     c.Name,
			VU:        it.VU,
		}
	}
	out[0].Request = true
	out[0].RequestFailed = resp.Status < 200 || resp.Status >= 400
	return out
}

func (s *HTTPScript) render(it profile.Iteration) (Request, error) {
	v := varsFor(it)

	u, err := render(s.url, v)
	if err != nil {
		return Request{}, err
	}
	body, err := render(s.body, v)
	if err != nil {
		return Request{}, err
	}
	headers := make(map[string]string, len(s.headers))
	for k, t := range s.headers {
		if headers[k], err = render(t, v); err != nil {
			return Request{}, err
		}
	}
	return Request{Method: s.method, URL: u, Headers: headers, Body: body}, nil
}

func (s *HTTPScript) failAll(start time.Time, d time.Duration, vu int) []stats.Outcome {
	out := make([]stats.Outcome, len(s.checks))
	for i, c := range s.checks {
		out[i] = stats.Outcome{Timestamp: start, Duration: d, Success: false, Label: c.Name, VU: vu}
	}
	return out
}

func joinURL(base, path string) (string, error) {
	if base == "" {
		if path == "" {
			return "", fmt.Errorf("no target: base url and path are empty")
		}
		return path, nil
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", base)
	}
	if path == "" {
		return base, nil
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}
