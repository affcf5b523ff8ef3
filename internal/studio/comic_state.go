package studio

import (
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
)

// GenerationFailedMessage is shown whenever a comic request fails
const GenerationFailedMessage = "Failed to generate comic panels. Please check your script or try again later."

// ComicStatus is the state of the session's current comic
type ComicStatus string

const (
	ComicIdle       ComicStatus = "idle"
	ComicGenerating ComicStatus = "generating"
	ComicReady      ComicStatus = "ready"
	ComicFailed     ComicStatus = "failed"
)

// ComicState is the single current comic of a session
type ComicState struct {
	Generation int                  `json:"generation"`
	Status     ComicStatus          `json:"status"`
	Script     string               `json:"script,omitempty"`
	Panels     models.PanelSequence `json:"panels"`
	Images     []images.PanelImage  `json:"images"`
	Error      string               `json:"error,omitempty"`
}

// ComicEvent changes a ComicState
type ComicEvent interface {
	comicEvent()
}

type (
	GenerationStarted struct {
		Generation int
		Script     string
	}
	GenerationSucceeded struct {
		Generation int
		Panels     models.PanelSequence
	}
	GenerationFailed struct {
		Generation int
		Err        error
	}
	PanelImageUpdated struct {
		Generation int
		Image      images.PanelImage
	}
)

func (GenerationStarted) comicEvent()   {}
func (GenerationSucceeded) comicEvent() {}
func (GenerationFailed) comicEvent()    {}
func (PanelImageUpdated) comicEvent()   {}

// ReduceComic applies e to s. Events for any generation other than the
// current one are ignored, except GenerationStarted for a newer generation.
func ReduceComic(s ComicState, e ComicEvent) ComicState {
	switch ev := e.(type) {
	case GenerationStarted:
		if ev.Generation <= s.Generation {
			return s
		}
		return ComicState{
			Generation: ev.Generation,
			Status:     ComicGenerating,
			Script:     ev.Script,
		}

	case GenerationSucceeded:
		if ev.Generation != s.Generation || s.Status != ComicGenerating {
			return s
		}
		s.Status = ComicReady
		s.Panels = ev.Panels.Clone()
		s.Images = images.Pending(ev.Panels)
		s.Error = ""
		return s

	case GenerationFailed:
		if ev.Generation != s.Generation || s.Status != ComicGenerating {
			return s
		}
		s.Status = ComicFailed
		s.Panels = nil
		s.Images = nil
		s.Error = GenerationFailedMessage
		return s

	case PanelImageUpdated:
		if ev.Generation != s.Generation || s.Status != ComicReady {
			return s
		}
		next := make([]images.PanelImage, len(s.Images))
		copy(next, s.Images)
		for i := range next {
			if next[i].Panel == ev.Image.Panel {
				if next[i].Status == images.StatusReady || next[i].Status == images.StatusFailed {
					return s
				}
				next[i] = ev.Image
				s.Images = next
				return s
			}
		}
		return s
	}
	return s
}

// Image returns the image slot for panel
func (s ComicState) Image(panel int) (images.PanelImage, bool) {
	for _, img := range s.Images {
		if img.Panel == panel {
			return img, true
		}
	}
	return images.PanelImage{}, false
}

// Clone returns a copy that shares nothing mutable with s
func (s ComicState) Clone() ComicState {
	s.Panels = s.Panels.Clone()
	if s.Images != nil {
		s.Images = append([]images.PanelImage(nil), s.Images...)
	}
	return s
}
