package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		trigger statusTrigger
		want    Status
		wantErr bool
	}{
		{StatusSending, triggerDelivered, StatusSuccess, false},
		{StatusSending, triggerNetworkLost, StatusPending, false},
		{StatusSending, triggerRejected, StatusFailed, false},
		{StatusSending, triggerQueue, StatusPending, false},
		{StatusPending, triggerDispatch, StatusSending, false},
		{StatusPending, triggerQueue, StatusPending, false},
		{StatusFailed, triggerDispatch, StatusSending, false},
		{StatusFailed, triggerQueue, StatusPending, false},
		{StatusSuccess, triggerDispatch, StatusSuccess, true},
		{StatusSuccess, triggerQueue, StatusSuccess, true},
		{StatusPending, triggerDelivered, StatusPending, true},
		{StatusFailed, triggerRejected, StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.trigger), func(t *testing.T) {
			msg := &Message{ID: "m", Status: tt.from}
			from, err := transition(msg, tt.trigger)
			require.Equal(t, tt.from, from)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.want, msg.Status)
		})
	}
}
