package mstime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEarliestSane(t *testing.T) {
	want := time.Date(1990, time.December, 25, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, EarliestSane.Time())
}

func TestFromTime(t *testing.T) {
	tests := []struct {
		in   time.Time
		name string
		want MsTime
	}{
		{name: "epoch", in: time.Unix(0, 0), want: 0},
		{name: "before epoch clamps", in: time.Unix(-100, 0), want: 0},
		{name: "millisecond precision", in: time.Unix(1_600_000_000, 123_456_789), want: 1_600_000_000_123},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromTime(tt.in))
		})
	}
}

func TestMsTime_IsSane(t *testing.T) {
	assert.False(t, EarliestSane.IsSane(), "boundary itself is not sane")
	assert.True(t, (EarliestSane + 1).IsSane())
	assert.True(t, Now().IsSane())
}
