package opens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatElapsed(t *testing.T) {
	sent := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		secs int64
		want string
	}{
		{-30, "immediately"},
		{0, "immediately"},
		{1, "1 second"},
		{45, "45 seconds"},
		{60, "1 minute"},
		{125, "2 minutes, 5 seconds"},
		{3600, "1 hour"},
		{3661, "1 hour, 1 minute, 1 second"},
		{7322, "2 hours, 2 minutes, 2 seconds"},
		{86400, "1 day"},
		{90061, "1 day, 1 hour, 1 minute"},
		{86460, "1 day, 1 minute"},
		{3*86400 + 5, "3 days"},
		{2*86400 + 3*3600, "2 days, 3 hours"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatElapsed(sent, sent.Add(time.Duration(tt.secs)*time.Second))
			assert.Equal(t, tt.want, got)
		})
	}
}
