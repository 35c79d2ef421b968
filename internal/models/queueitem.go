package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase names the pipeline phases a queue item passes through.
type Phase string

const (
	PhaseSnapshot  Phase = "snapshot"
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhasePublish   Phase = "publish"
	PhaseMetrics   Phase = "metrics"
	// PhaseError tags the timing entry of a document that failed in a stage;
	// the item is still forwarded so the metrics stage can count it.
	PhaseError Phase = "error"
)

// markerID is the reserved identifier distinguishing end-of-phase markers from
// document items.
const markerID = "--crawl-finish--"

const itemSeparator = "|"

// QueueItem is the compact string token passed between stages. A document item
// carries the document id plus (phase, elapsed-ms) pairs appended as it passes
// each stage: "id|extract:12|transform:3". A marker item carries the reserved
// identifier and the finished phase: "--crawl-finish--|extract".
type QueueItem string

// PhaseTiming is one (phase, elapsed) pair parsed from a document item.
type PhaseTiming struct {
	Phase   Phase
	Elapsed time.Duration
}

// NewDocumentItem creates a queue item for the given document id.
func NewDocumentItem(id string) QueueItem {
	return QueueItem(id)
}

// NewMarkerItem creates an end-of-phase marker for the given phase.
func NewMarkerItem(phase Phase) QueueItem {
	return QueueItem(markerID + itemSeparator + string(phase))
}

// IsMarker reports whether the item is an end-of-phase marker.
func (qi QueueItem) IsMarker() bool {
	return strings.HasPrefix(string(qi), markerID+itemSeparator)
}

// IsDocument reports whether the item carries a document id.
func (qi QueueItem) IsDocument() bool {
	return qi != "" && !qi.IsMarker()
}

// MarkerPhase returns the finished phase of a marker item, or "".
func (qi QueueItem) MarkerPhase() Phase {
	if !qi.IsMarker() {
		return ""
	}
	return Phase(strings.TrimPrefix(string(qi), markerID+itemSeparator))
}

// CompletesPhase reports whether the item is the marker for the given phase.
func (qi QueueItem) CompletesPhase(phase Phase) bool {
	return qi.IsMarker() && qi.MarkerPhase() == phase
}

// DocumentID returns the document id of a document item, or "".
func (qi QueueItem) DocumentID() string {
	if !qi.IsDocument() {
		return ""
	}
	if idx := strings.Index(string(qi), itemSeparator); idx >= 0 {
		return string(qi)[:idx]
	}
	return string(qi)
}

// WithTiming returns a copy of the item with a (phase, elapsed) pair appended.
func (qi QueueItem) WithTiming(phase Phase, elapsed time.Duration) QueueItem {
	ms := elapsed.Milliseconds()
	return QueueItem(fmt.Sprintf("%s%s%s:%d", string(qi), itemSeparator, phase, ms))
}

// Timings parses the accumulated (phase, elapsed) pairs of a document item.
// Malformed segments are skipped; the caller treats an item with no parseable
// id as a consistency error.
func (qi QueueItem) Timings() []PhaseTiming {
	if !qi.IsDocument() {
		return nil
	}
	parts := strings.Split(string(qi), itemSeparator)
	if len(parts) < 2 {
		return nil
	}
	timings := make([]PhaseTiming, 0, len(parts)-1)
	for _, part := range parts[1:] {
		colon := strings.LastIndex(part, ":")
		if colon <= 0 {
			continue
		}
		ms, err := strconv.ParseInt(part[colon+1:], 10, 64)
		if err != nil {
			continue
		}
		timings = append(timings, PhaseTiming{
			Phase:   Phase(part[:colon]),
			Elapsed: time.Duration(ms) * time.Millisecond,
		})
	}
	return timings
}
