package media

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"go.uber.org/zap"

	appmetrics "github.com/sfu-core/engine/internals/metrics"
)

// QualityTracker folds a producer's inbound RTCP receiver reports into a
// mediasoup-style 0-10 score: it starts at 10 and is penalized for lost
// packets and jitter, floored at 0.
type QualityTracker struct {
	logger *zap.Logger

	mu          sync.Mutex
	packetsLost uint32
	jitter      float64
	lastUpdated time.Time
}

func NewQualityTracker(logger *zap.Logger) *QualityTracker {
	return &QualityTracker{logger: logger, lastUpdated: time.Now()}
}

// ProcessRTCP folds one incoming RTCP packet into the running stats and
// returns the freshly computed score. Only ReceiverReport moves the score;
// PLI/FIR are logged for visibility but carry no inbound quality signal of
// their own (they're requests this producer's owner should act on).
func (q *QualityTracker) ProcessRTCP(packet rtcp.Packet) int {
	switch p := packet.(type) {
	case *rtcp.ReceiverReport:
		return q.handleReceiverReport(p)
	case *rtcp.PictureLossIndication:
		q.logger.Debug("received PLI", zap.Uint32("ssrc", p.MediaSSRC))
		appmetrics.RecordPLI()
	case *rtcp.FullIntraRequest:
		q.logger.Debug("received FIR", zap.Uint32("ssrc", p.MediaSSRC))
	case *rtcp.TransportLayerNack:
		appmetrics.RecordNACK()
	}
	return q.Score()
}

func (q *QualityTracker) handleReceiverReport(rr *rtcp.ReceiverReport) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, report := range rr.Reports {
		q.packetsLost = report.TotalLost
		q.jitter = float64(report.Jitter)
	}
	q.lastUpdated = time.Now()
	return q.score()
}

// score derives a 0-10 quality score: -1 point per 50 packets of reported
// cumulative loss, and -1 point per 480 RTP clock units of jitter (10ms at
// 48kHz), floored at 0.
func (q *QualityTracker) score() int {
	penalty := int(q.packetsLost/50) + int(q.jitter/480) // jitter is in RTP clock units
	s := 10 - penalty
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

func (q *QualityTracker) Score() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.score()
}

func (q *QualityTracker) Stats() QualityStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QualityStats{PacketsLost: q.packetsLost, Jitter: q.jitter, LastUpdated: q.lastUpdated}
}

type QualityStats struct {
	PacketsLost uint32    `json:"packets_lost"`
	Jitter      float64   `json:"jitter"`
	LastUpdated time.Time `json:"last_updated"`
}
