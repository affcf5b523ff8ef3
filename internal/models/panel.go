package models

// Dialogue is one spoken line inside a panel
type Dialogue struct {
	Character string `json:"character" jsonschema_description:"The name of the speaking character."`
	Text      string `json:"text" jsonschema_description:"The exact line of dialogue."`
}

// Panel is one unit of a generated comic
type Panel struct {
	Panel                 int        `json:"panel" jsonschema:"minimum=1" jsonschema_description:"The panel number, starting from 1."`
	Scene                 string     `json:"scene" jsonschema_description:"A vivid, kid-friendly description of the scene."`
	Style                 string     `json:"style" jsonschema_description:"The art style, which should always be 'children’s comic, colorful, playful, funny, safe'."`
	Dialogues             []Dialogue `json:"dialogues" jsonschema_description:"The dialogue lines spoken in this panel, in order."`
	ImageGenerationPrompt string     `json:"image_generation_prompt" jsonschema_description:"A detailed visual prompt for an image generation model. It must include scene, style, characters, and instructions for speech balloons with the exact dialogue text."`
}

// PanelSequence is the ordered set of panels making up one comic
type PanelSequence []Panel

// Speakers returns the distinct characters with dialogue, in order of first appearance
func (s PanelSequence) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s {
		for _, d := range p.Dialogues {
			if d.Character == "" || seen[d.Character] {
				continue
			}
			seen[d.Character] = true
			out = append(out, d.Character)
		}
	}
	return out
}

// Clone returns a deep copy so callers can hand the sequence out safely
func (s PanelSequence) Clone() PanelSequence {
	if s == nil {
		return nil
	}
	out := make(PanelSequence, len(s))
	for i, p := range s {
		p.Dialogues = append([]Dialogue(nil), p.Dialogues...)
		out[i] = p
	}
	return out
}
