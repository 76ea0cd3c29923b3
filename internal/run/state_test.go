package run

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle submit", from: StateIdle, event: EventSubmit, want: StateSubmitted},
		{name: "submitted delta", from: StateSubmitted, event: EventDelta, want: StateStreaming},
		{name: "submitted resolve", from: StateSubmitted, event: EventResolve, want: StateIdle},
		{name: "submitted defer", from: StateSubmitted, event: EventDefer, want: StateDeferred},
		{name: "streaming delta", from: StateStreaming, event: EventDelta, want: StateStreaming},
		{name: "streaming defer", from: StateStreaming, event: EventDefer, want: StateDeferred},
		{name: "streaming resolve", from: StateStreaming, event: EventResolve, want: StateIdle},
		{name: "deferred resolve", from: StateDeferred, event: EventResolve, want: StateIdle},
		{name: "deferred defer re-arms", from: StateDeferred, event: EventDefer, want: StateDeferred},
		{name: "supersede from anywhere", from: StateDeferred, event: EventSupersede, want: StateIdle},
		{name: "idle delta invalid", from: StateIdle, event: EventDelta, want: StateIdle, wantErr: true},
		{name: "deferred delta invalid", from: StateDeferred, event: EventDelta, want: StateDeferred, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.from, tc.event)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.want, got)
		})
	}
}
