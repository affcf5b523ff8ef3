package comic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/models"
	"comic-studio/backend/pkg/logger"
)

// EmptyScriptMessage is shown to the user when they submit a blank script
const EmptyScriptMessage = "Please enter a script to create a comic."

var (
	ErrEmptyScript      = errors.New("script is empty")
	ErrScriptTooLong    = errors.New("script is too long")
	ErrInvalidPanelData = errors.New("invalid panel data")
)

var requiredPanelFields = []string{"panel", "scene", "style", "dialogues", "image_generation_prompt"}

// Generator produces structured JSON from a script
type Generator interface {
	GenerateStructuredPanels(ctx context.Context, instruction string, schema any, script string) (json.RawMessage, error)
}

// Orchestrator turns a script into a validated panel sequence
type Orchestrator struct {
	gen             Generator
	maxScriptLength int
	log             *logger.Logger
}

// NewOrchestrator creates an orchestrator. maxScriptLength <= 0 disables the length check.
func NewOrchestrator(gen Generator, maxScriptLength int, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Orchestrator{
		gen:             gen,
		maxScriptLength: maxScriptLength,
		log:             log.With("component", "panel_orchestrator"),
	}
}

// NormalizeScript trims the script and enforces the length limit
func (o *Orchestrator) NormalizeScript(script string) (string, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return "", ErrEmptyScript
	}
	if o.maxScriptLength > 0 && utf8.RuneCountInString(script) > o.maxScriptLength {
		return "", fmt.Errorf("%w: limit is %d characters", ErrScriptTooLong, o.maxScriptLength)
	}
	return script, nil
}

// CreateComic asks the model for panels and returns them as received once they validate
func (o *Orchestrator) CreateComic(ctx context.Context, script string) (models.PanelSequence, error) {
	script, err := o.NormalizeScript(script)
	if err != nil {
		return nil, err
	}

	raw, err := o.gen.GenerateStructuredPanels(ctx, SystemInstruction, PanelSchema, script)
	if err != nil {
		return nil, fmt.Errorf("failed to generate comic panels: %w", err)
	}

	panels, err := ParsePanels(raw)
	if err != nil {
		o.log.Warn("rejected panel payload", "error", err.Error(), "bytes", len(raw))
		return nil, err
	}

	o.reportDrift(panels)
	o.log.Debug("comic panels generated", "panels", len(panels), "speakers", len(panels.Speakers()))
	return panels, nil
}

// ParsePanels decodes and validates a model payload
func ParsePanels(raw json.RawMessage) (models.PanelSequence, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected an array of panels", ErrInvalidPanelData)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", gemini.ErrMalformedResponse, err)
	}

	panels := make(models.PanelSequence, 0, len(elements))
	for i, el := range elements {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(el, &fields); err != nil {
			return nil, fmt.Errorf("%w: element %d is not an object", gemini.ErrMalformedResponse, i)
		}
		for _, name := range requiredPanelFields {
			if _, ok := fields[name]; !ok {
				return nil, fmt.Errorf("%w: element %d is missing %q", gemini.ErrMalformedResponse, i, name)
			}
		}

		var p models.Panel
		if err := json.Unmarshal(el, &p); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", gemini.ErrMalformedResponse, i, err)
		}
		panels = append(panels, p)
	}

	if err := Validate(panels); err != nil {
		return nil, err
	}
	return panels, nil
}

// Validate checks that a sequence is non-empty and numbered 1..N in order
func Validate(panels models.PanelSequence) error {
	if len(panels) == 0 {
		return fmt.Errorf("%w: no panels", ErrInvalidPanelData)
	}
	for i, p := range panels {
		if p.Panel != i+1 {
			return fmt.Errorf("%w: panel at position %d is numbered %d", ErrInvalidPanelData, i+1, p.Panel)
		}
	}
	return nil
}

// reportDrift logs when panels disagree on the shared scene or style. Data is never altered.
func (o *Orchestrator) reportDrift(panels models.PanelSequence) {
	first := panels[0]
	var sceneDrift, styleDrift int
	for _, p := range panels[1:] {
		if p.Scene != first.Scene {
			sceneDrift++
		}
		if p.Style != first.Style {
			styleDrift++
		}
	}
	if first.Style != Style {
		styleDrift++
	}
	if sceneDrift > 0 || styleDrift > 0 {
		o.log.Warn("panel sequence drifts from shared visuals",
			"panels", len(panels),
			"scene_drift", sceneDrift,
			"style_drift", styleDrift,
		)
	}
}
