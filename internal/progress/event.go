package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageBatchDone Stage = "BATCH_DONE"
	StagePageDone  Stage = "PAGE_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// Outcome is the final state of one page.
type Outcome string

// Page outcomes.
const (
	OutcomeSummarized   Outcome = "summarized"
	OutcomeUnsummarized Outcome = "unsummarized"
	OutcomeFailed       Outcome = "failed"
)

// OutcomeOf classifies a page record.
func OutcomeOf(page *summary.Page) Outcome {
	switch {
	case page == nil || page.Failed():
		return OutcomeFailed
	case page.Summarized():
		return OutcomeSummarized
	default:
		return OutcomeUnsummarized
	}
}

// Event is one milestone of a run.
type Event struct {
	// RunID identifies the run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host being summarized.
	Site string
	// URL is set on page events.
	URL     string
	Outcome Outcome
	// Batch is the zero-based batch index on batch events.
	Batch int
	// Processed and Total mirror the processor's progress callback.
	Processed int
	Total     int
	// Dur is the run wall time on RUN_DONE and RUN_ERROR.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageBatchDone:
		if e.Processed <= 0 {
			return errors.New("batch done requires a processed count")
		}
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
		switch e.Outcome {
		case OutcomeSummarized, OutcomeUnsummarized, OutcomeFailed:
		default:
			return fmt.Errorf("page done has unknown outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
