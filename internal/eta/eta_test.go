package eta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitMinutes(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		traffic  Traffic
		want     int
	}{
		{"driver at pickup", 0, TrafficNormal, 5},
		{"normal traffic", 3, TrafficNormal, 11},
		{"good traffic", 3, TrafficGood, 9},
		{"bad traffic", 3, TrafficBad, 16},
		{"unknown traffic treated as normal", 3, Traffic("jam"), 11},
		{"negative distance clamps", -4, TrafficNormal, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WaitMinutes(tt.distance, tt.traffic))
		})
	}
}

func TestParseTraffic(t *testing.T) {
	assert.Equal(t, TrafficGood, ParseTraffic(" Good "))
	assert.Equal(t, TrafficBad, ParseTraffic("BAD"))
	assert.Equal(t, TrafficNormal, ParseTraffic(""))
	assert.Equal(t, TrafficNormal, ParseTraffic("whatever"))
}
