package media

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQualityTracker_StartsAtTen(t *testing.T) {
	q := NewQualityTracker(zap.NewNop())
	assert.Equal(t, 10, q.Score())
}

func TestQualityTracker_ReceiverReportPenalizesLossAndJitter(t *testing.T) {
	q := NewQualityTracker(zap.NewNop())

	score := q.ProcessRTCP(&rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{
			{TotalLost: 100, Jitter: 960},
		},
	})

	// 100/50 = 2, 960/480 = 2 -> penalty 4 -> score 6
	assert.Equal(t, 6, score)
	assert.Equal(t, 6, q.Score())

	stats := q.Stats()
	require.Equal(t, uint32(100), stats.PacketsLost)
	assert.Equal(t, float64(960), stats.Jitter)
	assert.WithinDuration(t, time.Now(), stats.LastUpdated, time.Second)
}

func TestQualityTracker_ScoreFloorsAtZero(t *testing.T) {
	q := NewQualityTracker(zap.NewNop())

	score := q.ProcessRTCP(&rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{
			{TotalLost: 100000, Jitter: 0},
		},
	})

	assert.Equal(t, 0, score)
}

func TestQualityTracker_PLIAndNACKDoNotChangeScore(t *testing.T) {
	q := NewQualityTracker(zap.NewNop())

	before := q.Score()
	afterPLI := q.ProcessRTCP(&rtcp.PictureLossIndication{MediaSSRC: 42})
	afterNACK := q.ProcessRTCP(&rtcp.TransportLayerNack{MediaSSRC: 42})

	assert.Equal(t, before, afterPLI)
	assert.Equal(t, before, afterNACK)
}

func TestQualityTracker_MultipleReportsKeepLastValue(t *testing.T) {
	q := NewQualityTracker(zap.NewNop())

	q.ProcessRTCP(&rtcp.ReceiverReport{
		Reports: []rtcp.ReceptionReport{
			{TotalLost: 50, Jitter: 0},
			{TotalLost: 200, Jitter: 480},
		},
	})

	stats := q.Stats()
	assert.Equal(t, uint32(200), stats.PacketsLost)
	assert.Equal(t, float64(480), stats.Jitter)
}
