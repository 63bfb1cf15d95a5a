package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	now := time.Now()
	tests := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"run start", Event{RunID: id, TS: now, Stage: StageRunStart}, false},
		{"missing id", Event{TS: now, Stage: StageRunStart}, true},
		{"missing ts", Event{RunID: id, Stage: StageRunStart}, true},
		{"unknown stage", Event{RunID: id, TS: now, Stage: "NOPE"}, true},
		{"batch without count", Event{RunID: id, TS: now, Stage: StageBatchDone}, true},
		{"batch", Event{RunID: id, TS: now, Stage: StageBatchDone, Processed: 2, Total: 4}, false},
		{"page without url", Event{RunID: id, TS: now, Stage: StagePageDone, Outcome: OutcomeFailed}, true},
		{"page bad outcome", Event{RunID: id, TS: now, Stage: StagePageDone, URL: "u", Outcome: "meh"}, true},
		{"page", Event{RunID: id, TS: now, Stage: StagePageDone, URL: "u", Outcome: OutcomeSummarized}, false},
		{"negative dur", Event{RunID: id, TS: now, Stage: StageRunDone, Dur: -time.Second}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestReporterEmitsRunLifecycle(t *testing.T) {
	t.Parallel()

	rec := &recordingEmitter{}
	id := uuid.New()
	r, err := NewReporter(rec, id.String(), "example.com")
	require.NoError(t, err)

	summarized := summary.NewPage("https://example.com/a", "A", "a")
	require.NoError(t, summarized.SetSummary("s"))
	pages := []*summary.Page{
		summarized,
		summary.NewPage("https://example.com/b", "B", "b"),
		summary.NewFailedPage("https://example.com/c", errors.New("timeout")),
	}

	r.Start()
	progress := r.OnProgress()
	progress(2, 3)
	progress(3, 3)
	r.Pages(pages)
	r.Finish(time.Second, nil)

	events := rec.events
	require.Len(t, events, 7)
	for _, evt := range events {
		require.NoError(t, evt.Validate())
		require.Equal(t, id, evt.RunUUID())
		require.Equal(t, "example.com", evt.Site)
	}
	require.Equal(t, StageRunStart, events[0].Stage)
	require.Equal(t, 0, events[1].Batch)
	require.Equal(t, 1, events[2].Batch)
	require.Equal(t, 3, events[2].Processed)
	require.Equal(t, OutcomeSummarized, events[3].Outcome)
	require.Equal(t, OutcomeUnsummarized, events[4].Outcome)
	require.Equal(t, OutcomeFailed, events[5].Outcome)
	require.Equal(t, "timeout", events[5].Note)
	require.Equal(t, StageRunDone, events[6].Stage)
}

func TestReporterRejectsBadRunID(t *testing.T) {
	t.Parallel()

	_, err := NewReporter(&recordingEmitter{}, "not-a-uuid", "example.com")
	require.Error(t, err)
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.events = append(r.events, evt)
}
