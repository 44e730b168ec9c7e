// Package dto holds the result and report types the archiver returns to
// outer coordinators.
package dto

import (
	"time"

	"github.com/lirano/guild-archiver/internal/archive/model"
)

// GrantResult is returned after a consent grant; BackfillRequested tells the
// coordinator to kick the orchestrator, the consent engine never does so
// itself.
type GrantResult struct {
	Record            *model.ConsentRecord `json:"record"`
	BackfillRequested bool                 `json:"backfill_requested"`
	BackfillFrom      *time.Time           `json:"backfill_from,omitempty"`
}

// EraseReport holds the audit counts of one erasure run.
type EraseReport struct {
	MessagesFound   int64 `json:"messages_found"`
	MessagesDeleted int64 `json:"messages_deleted"`
	BlobsDeleted    int   `json:"blobs_deleted"`
}

// AutoGrantReport holds the stats of one auto-grant sweep.
type AutoGrantReport struct {
	Created     int `json:"created"`
	Existing    int `json:"existing"`
	SkippedBots int `json:"skipped_bots"`
	Total       int `json:"total_processed"`
}

// ChannelReport is the outcome of replaying one channel.
type ChannelReport struct {
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Captured    int    `json:"captured"`
	Failed      int    `json:"failed"`
	// Forbidden marks a channel the process cannot read; it counts as zero
	// progress, not as a failure.
	Forbidden bool `json:"forbidden"`
}

// BackfillReport sums channel reports for one replay run.
type BackfillReport struct {
	Channels []ChannelReport `json:"channels"`
	Captured int             `json:"captured"`
	Failed   int             `json:"failed"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
}

// Add folds one channel outcome into the run totals.
func (r *BackfillReport) Add(cr ChannelReport) {
	r.Channels = append(r.Channels, cr)
	r.Captured += cr.Captured
	r.Failed += cr.Failed
}
