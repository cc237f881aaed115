package script

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"

	"stagerun/internal/profile"
)

// shortcuts rewrites the bare placeholders accepted in request fields into
// fields of vars. {{userID}} is the virtual user id.
var shortcuts = strings.NewReplacer(
	"{{userID}}", "{{.VU}}",
	"{{vu}}", "{{.VU}}",
	"{{iteration}}", "{{.Iteration}}",
	"{{uuid}}", "{{.RequestID}}",
	"{{requestID}}", "{{.RequestID}}",
)

// vars is what a request field sees when rendered. RequestID is shared by
// every field of one iteration.
type vars struct {
	VU        int
	Iteration int64
	RequestID string
}

func varsFor(it profile.Iteration) vars {
	return vars{VU: it.VU, Iteration: it.Iteration, RequestID: uuid.NewString()}
}

// fields compiles request fields and renders them per iteration. Files read
// by randomLine are loaded once and shared across virtual users.
type fields struct {
	funcs template.FuncMap

	mu    sync.RWMutex
	files map[string][]string
}

func newFields() *fields {
	f := &fields{files: make(map[string][]string)}
	f.funcs = template.FuncMap{
		"randomInt":    randomInt,
		"randomChoice": randomChoice,
		"randomUUID":   uuid.NewString,
		"uuid":         uuid.NewString,
		"randomLine":   f.randomLine,
	}
	return f
}

func (f *fields) compile(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(f.funcs).Parse(shortcuts.Replace(text))
}

func render(t *template.Template, v vars) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// randomInt returns a value in [lo, hi), or lo when the range is empty.
func randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo)
}

func randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.IntN(len(choices))]
}

func (f *fields) randomLine(path string) (string, error) {
	lines, err := f.lines(path)
	if err != nil || len(lines) == 0 {
		return "", err
	}
	return lines[rand.IntN(len(lines))], nil
}

func (f *fields) lines(path string) ([]string, error) {
	f.mu.RLock()
	lines, ok := f.files[path]
	f.mu.RUnlock()
	if ok {
		return lines, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lines, ok := f.files[path]; ok {
		return lines, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("randomLine: %w", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("randomLine %s: %w", path, err)
	}
	f.files[path] = lines
	return lines, nil
}
