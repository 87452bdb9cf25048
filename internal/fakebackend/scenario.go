package fakebackend

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/intelwatch/internal/event"
)

//go:embed scenarios/*.yaml
var builtin embed.FS

// Scenario is a scripted research run.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one scripted action. Exactly one of Status, Raw or Disconnect is
// set.
type Step struct {
	// Delay is waited before the step runs.
	Delay time.Duration `yaml:"delay"`

	Status  string         `yaml:"status"`
	Message string         `yaml:"message"`
	Error   string         `yaml:"error"`
	Result  map[string]any `yaml:"result"`

	// Envelope overrides the frame type. Defaults to status_update.
	Envelope string `yaml:"envelope"`

	// Raw is sent verbatim instead of a status frame.
	Raw string `yaml:"raw"`

	// Disconnect drops every connected channel.
	Disconnect bool `yaml:"disconnect"`

	// Silent steps update the poll document without pushing a frame.
	Silent bool `yaml:"silent"`
}

func (s Step) validate() error {
	n := 0
	if s.Status != "" {
		n++
	}
	if s.Raw != "" {
		n++
	}
	if s.Disconnect {
		n++
	}
	if n != 1 {
		return errors.New("exactly one of status, raw or disconnect must be set")
	}
	if s.Delay < 0 {
		return errors.New("delay must not be negative")
	}
	return nil
}

// statusEvent is the data payload of the step.
func (s Step) statusEvent() map[string]any {
	ev := map[string]any{"status": s.Status}
	if s.Message != "" {
		ev["message"] = s.Message
	}
	if s.Error != "" {
		ev["error"] = s.Error
	}
	if len(s.Result) > 0 {
		ev["result"] = s.Result
	}
	return ev
}

// frame renders the websocket text frame for the step.
func (s Step) frame() ([]byte, error) {
	if s.Raw != "" {
		return []byte(s.Raw), nil
	}
	typ := s.Envelope
	if typ == "" {
		typ = event.EnvelopeTypeStatus
	}
	return json.Marshal(map[string]any{"type": typ, "data": s.statusEvent()})
}

// pollable reports whether the step replaces the poll document.
func (s Step) pollable() bool {
	return s.Status != "" && (s.Envelope == "" || s.Envelope == event.EnvelopeTypeStatus)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("scenario has no steps")
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &sc, nil
}

// LoadScenario resolves a built-in scenario name or reads a YAML file.
func LoadScenario(nameOrPath string) (*Scenario, error) {
	if nameOrPath == "" {
		nameOrPath = "default"
	}
	if data, err := builtin.ReadFile(path.Join("scenarios", nameOrPath+".yaml")); err == nil {
		return ParseScenario(data)
	}
	data, err := os.ReadFile(nameOrPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unknown scenario %q (built-in: %s)", nameOrPath, strings.Join(Builtin(), ", "))
		}
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// Builtin lists the embedded scenario names.
func Builtin() []string {
	entries, err := builtin.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}
