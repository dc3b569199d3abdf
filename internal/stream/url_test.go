package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{base: "http://localhost:8000", path: "/ws/events", want: "ws://localhost:8000/ws/events"},
		{base: "https://api.tradeguard.example/", path: "", want: "wss://api.tradeguard.example/ws/events"},
		{base: "https://api.tradeguard.example/v1", path: "ws/events", want: "wss://api.tradeguard.example/v1/ws/events"},
		{base: "ws://already:9000", path: "/ws/events", want: "ws://already:9000/ws/events"},
	}

	for _, tt := range tests {
		got, err := EventsURL(tt.base, tt.path)
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}

func TestEventsURLRejectsBadBase(t *testing.T) {
	for _, base := range []string{"ftp://host", "localhost:8000", "http://", "::"} {
		_, err := EventsURL(base, "/ws/events")
		assert.Error(t, err, base)
	}
}
