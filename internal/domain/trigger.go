package domain

import "time"

// TriggerType classifies what moved on the oracle side.
type TriggerType string

const (
	TriggerLineMove    TriggerType = "line_move"
	TriggerImpliedMove TriggerType = "implied_move"
	TriggerBothMove    TriggerType = "both"
)

// Trigger records a detected oracle move against a Polymarket market. A
// trigger stays open until the gap between the oracle implied price and the
// live Polymarket price converges, at which point GapClosedAt and LagSeconds
// are set exactly once.
type Trigger struct {
	ID           string
	GameKey      string
	Time         time.Time
	Type         TriggerType
	PrevLine     float64
	NewLine      float64
	DeltaLine    float64
	PrevImplied  float64
	NewImplied   float64
	DeltaImplied float64
	PolyPrice    float64
	Gap          float64
	GapClosedAt  *time.Time
	LagSeconds   *float64
}

// MoveEvent is the t0 anchor row for a high-resolution capture series.
type MoveEvent struct {
	ID            string
	GameKey       string
	MarketType    MarketType
	TokenID       string
	OutcomeName   string
	Source        string
	Time          time.Time
	PolyLine      float64
	OracleLine    float64
	OraclePrevImp float64
	OracleNewImp  float64
	OracleDelta   float64
	RefPrice      float64
	T0Price       float64
	T0Gap         float64
}

// CaptureSample is one offset sample in a high-resolution capture series.
type CaptureSample struct {
	MoveEventID string
	OffsetSec   float64
	Price       float64
	Gap         float64
	Bid         float64
	Ask         float64
	Depth       float64
	Time        time.Time
}

// SnapshotSource tells which side of the comparison a line snapshot is from.
type SnapshotSource string

const (
	SnapshotOracle SnapshotSource = "oracle"
	SnapshotPoly   SnapshotSource = "poly"
)

// LineSnapshot is a periodic record of a line and its implied probability,
// taken from either the oracle or Polymarket.
type LineSnapshot struct {
	GameKey    string
	Source     SnapshotSource
	MarketType MarketType
	Line       float64
	Implied    float64
	Time       time.Time
}
