// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package callrecord persists the one externally-visible record per call
// described in spec.md §6.3. It is the only state the core writes outside
// its own process memory.
package callrecord

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/rapidaai/voicecore/internal/callmodel"
)

// Status mirrors spec.md §6.3's status enum.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is the persisted row for one call (spec.md §6.3).
type Record struct {
	ID              string `gorm:"column:id;type:varchar(64);primaryKey"`
	Status          Status `gorm:"column:status;type:varchar(20);not null"`
	StartedAt       time.Time
	EndedAt         *time.Time `gorm:"column:ended_at"`
	EndedReason     string     `gorm:"column:ended_reason;type:varchar(40)"`
	TranscriptJSON  string     `gorm:"column:transcript;type:jsonb"`
	RecordingURL    string     `gorm:"column:recording_url;type:text"`
	DurationSeconds int        `gorm:"column:duration_seconds"`
	AgentID         string     `gorm:"column:agent_id;type:varchar(64)"`
	CustomerNumber  string     `gorm:"column:customer_number;type:varchar(40)"`
}

func (Record) TableName() string { return "call_records" }

// transcriptEntry is the wire shape for one conversation-log turn in the
// persisted transcript column.
type transcriptEntry struct {
	Role      callmodel.Role `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store writes and updates call records. Implementations must tolerate
// being called from the orchestrator's lifecycle callbacks, which run on
// the per-call work queue — no call blocks on another call's write.
type Store interface {
	Initiate(r *Record) error
	MarkRinging(callID string) error
	MarkInProgress(callID string) error
	Finish(callID string, status Status, endedReason string, history []callmodel.Turn, recordingURL string, endedAt time.Time) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore wraps a *gorm.DB already migrated for Record.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Initiate(r *Record) error {
	r.Status = StatusInitiated
	return s.db.Create(r).Error
}

func (s *gormStore) MarkRinging(callID string) error {
	return s.db.Model(&Record{}).Where("id = ?", callID).
		Update("status", StatusRinging).Error
}

func (s *gormStore) MarkInProgress(callID string) error {
	return s.db.Model(&Record{}).Where("id = ?", callID).
		Update("status", StatusInProgress).Error
}

func (s *gormStore) Finish(callID string, status Status, endedReason string, history []callmodel.Turn, recordingURL string, endedAt time.Time) error {
	entries := make([]transcriptEntry, 0, len(history))
	for _, t := range history {
		entries = append(entries, transcriptEntry{Role: t.Role, Content: t.Content, Timestamp: t.Timestamp})
	}
	transcript, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	var startedAt time.Time
	if err := s.db.Model(&Record{}).Where("id = ?", callID).Pluck("started_at", &startedAt).Error; err != nil {
		startedAt = endedAt
	}

	updates := map[string]interface{}{
		"status":           status,
		"ended_at":         endedAt,
		"ended_reason":     endedReason,
		"transcript":       string(transcript),
		"recording_url":    recordingURL,
		"duration_seconds": int(endedAt.Sub(startedAt).Seconds()),
	}
	return s.db.Model(&Record{}).Where("id = ?", callID).Updates(updates).Error
}

// NoopStore is used when no Postgres connection is configured; every
// operation succeeds silently.
type NoopStore struct{}

func (NoopStore) Initiate(*Record) error          { return nil }
func (NoopStore) MarkRinging(string) error        { return nil }
func (NoopStore) MarkInProgress(string) error     { return nil }
func (NoopStore) Finish(string, Status, string, []callmodel.Turn, string, time.Time) error {
	return nil
}
