package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ComicRecord is an archived, successfully generated comic
type ComicRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	SessionID  string    `json:"session_id" gorm:"index;size:64"`
	Generation int       `json:"generation"`
	Script     string    `json:"script" gorm:"type:text"`
	PanelCount int       `json:"panel_count"`
	Panels     string    `json:"-" gorm:"type:jsonb"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// NewComicRecord captures a panel sequence for the archive
func NewComicRecord(sessionID string, generation int, script string, panels PanelSequence) (*ComicRecord, error) {
	data, err := json.Marshal(panels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode panels: %w", err)
	}
	return &ComicRecord{
		SessionID:  sessionID,
		Generation: generation,
		Script:     script,
		PanelCount: len(panels),
		Panels:     string(data),
	}, nil
}

// DecodePanels returns the archived panel sequence
func (r *ComicRecord) DecodePanels() (PanelSequence, error) {
	var panels PanelSequence
	if err := json.Unmarshal([]byte(r.Panels), &panels); err != nil {
		return nil, fmt.Errorf("failed to decode archived panels: %w", err)
	}
	return panels, nil
}
