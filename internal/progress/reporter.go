package progress

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// Reporter emits the events of one run.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	site    string
	now     func() time.Time
	batch   int
}

// NewReporter binds an emitter to a run. A nil emitter yields a Reporter
// whose methods do nothing.
func NewReporter(emitter Emitter, runID, site string) (*Reporter, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	return &Reporter{
		emitter: emitter,
		runID:   UUIDToBytes(id),
		site:    site,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.now()
	evt.Site = r.site
	r.emitter.Emit(evt)
}

// Start emits RUN_START.
func (r *Reporter) Start() {
	r.emit(Event{Stage: StageRunStart})
}

// OnProgress returns a callback suitable for processor requests. It emits
// one BATCH_DONE per call; the processor invokes it sequentially.
func (r *Reporter) OnProgress() summary.ProgressFunc {
	return func(processed, total int) {
		if r == nil {
			return
		}
		r.emit(Event{Stage: StageBatchDone, Batch: r.batch, Processed: processed, Total: total})
		r.batch++
	}
}

// Pages emits one PAGE_DONE per record.
func (r *Reporter) Pages(pages []*summary.Page) {
	for _, page := range pages {
		if page == nil {
			continue
		}
		evt := Event{Stage: StagePageDone, URL: page.URL(), Outcome: OutcomeOf(page)}
		if text, failed := page.Err(); failed {
			evt.Note = text
		}
		r.emit(evt)
	}
}

// Finish emits RUN_DONE, or RUN_ERROR when err is non-nil.
func (r *Reporter) Finish(dur time.Duration, err error) {
	if err != nil {
		r.emit(Event{Stage: StageRunError, Dur: dur, Note: err.Error()})
		return
	}
	r.emit(Event{Stage: StageRunDone, Dur: dur})
}
