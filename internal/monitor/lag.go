package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polywatch/internal/capture"
	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/alanyoungcy/polywatch/internal/notify"
	"github.com/alanyoungcy/polywatch/internal/platform/oddsapi"
	"github.com/alanyoungcy/polywatch/internal/strategy"
)

// OracleSource is the sportsbook odds surface the lag monitor polls.
type OracleSource interface {
	GetTotals(ctx context.Context) ([]oddsapi.TotalLine, error)
	GetEventOdds(ctx context.Context, eventID string, markets ...string) (oddsapi.APIGame, error)
	Credits() (used, remaining int64)
}

// MarketResolver looks up the Polymarket event matching an oracle game.
type MarketResolver interface {
	GetEventBySlug(ctx context.Context, slug string) (domain.Event, error)
}

// escalationHold is how long a trigger or anomaly keeps the monitor polling
// at the fast interval.
const escalationHold = 30 * time.Minute

// LagOptions tunes the lag monitor loop.
type LagOptions struct {
	LineMoveThreshold    float64
	ImpliedMoveThreshold float64
	ConvergenceGap       float64
	LineMatchTolerance   float64
	MinTotalLine         float64
	MaxTotalLine         float64
	NormalInterval       time.Duration
	TriggerInterval      time.Duration
	SweepInterval        time.Duration
	RefreshInterval      time.Duration
	StatusInterval       time.Duration
	Bookmaker            string
	CreditWarn           int
}

func (o *LagOptions) applyDefaults() {
	if o.LineMoveThreshold <= 0 {
		o.LineMoveThreshold = 1.5
	}
	if o.ImpliedMoveThreshold <= 0 {
		o.ImpliedMoveThreshold = 0.06
	}
	if o.ConvergenceGap <= 0 {
		o.ConvergenceGap = 0.01
	}
	if o.LineMatchTolerance <= 0 {
		o.LineMatchTolerance = 0.5
	}
	if o.MinTotalLine <= 0 {
		o.MinTotalLine = 170
	}
	if o.MaxTotalLine <= 0 {
		o.MaxTotalLine = 310
	}
	if o.NormalInterval <= 0 {
		o.NormalInterval = time.Hour
	}
	if o.TriggerInterval <= 0 {
		o.TriggerInterval = 15 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 10 * time.Minute
	}
	if o.StatusInterval <= 0 {
		o.StatusInterval = 5 * time.Minute
	}
	if o.Bookmaker == "" {
		o.Bookmaker = "pinnacle"
	}
	if o.CreditWarn <= 0 {
		o.CreditWarn = 50
	}
}

// trackedGame pairs one oracle game with its resolved Polymarket totals
// market.
type trackedGame struct {
	gameKey  string
	oracleID string
	homeTeam string
	awayTeam string
	commence time.Time
	slug     string

	line        float64
	overImplied float64

	overToken  string
	underToken string
	marketLine float64
}

// tokenRef maps a feed asset back to the game and outcome it belongs to.
type tokenRef struct {
	gameKey string
	outcome string
}

// bookTop is the last seen top of book for one token.
type bookTop struct {
	bid   float64
	ask   float64
	depth float64
}

// LagMonitor polls the sportsbook oracle for totals line moves, matches each
// game to its Polymarket totals market, records triggers with high-resolution
// captures, and sweeps open triggers for convergence. Outside the active
// hours window it drops all subscriptions and sleeps; on resume the tracked
// set is rebuilt from scratch.
type LagMonitor struct {
	opts      LagOptions
	hours     *ActiveHours
	oracle    OracleSource
	resolver  MarketResolver
	feed      PriceFeed
	detector  *strategy.Detector
	capture   *capture.Scheduler
	triggers  domain.TriggerStore
	snapshots domain.SnapshotStore
	logger    *slog.Logger

	// Optional sinks; any of them may be nil.
	bus      SignalPublisher
	notifier *notify.Notifier
	prices   domain.PriceCache

	mu             sync.Mutex
	games          map[string]*trackedGame
	tokens         map[string]tokenRef
	books          map[string]bookTop
	unresolved     map[string]time.Time
	escalatedUntil time.Time

	runCtx context.Context
}

// NewLagMonitor wires the monitor.
func NewLagMonitor(
	opts LagOptions,
	hours *ActiveHours,
	oracle OracleSource,
	resolver MarketResolver,
	feed PriceFeed,
	detector *strategy.Detector,
	scheduler *capture.Scheduler,
	triggers domain.TriggerStore,
	snapshots domain.SnapshotStore,
	logger *slog.Logger,
) *LagMonitor {
	opts.applyDefaults()
	return &LagMonitor{
		opts:       opts,
		hours:      hours,
		oracle:     oracle,
		resolver:   resolver,
		feed:       feed,
		detector:   detector,
		capture:    scheduler,
		triggers:   triggers,
		snapshots:  snapshots,
		logger:     logger.With(slog.String("component", "lag_monitor")),
		games:      make(map[string]*trackedGame),
		tokens:     make(map[string]tokenRef),
		books:      make(map[string]bookTop),
		unresolved: make(map[string]time.Time),
	}
}

// SetSignalBus adds a pub/sub + stream sink for triggers.
func (m *LagMonitor) SetSignalBus(b SignalPublisher) { m.bus = b }

// SetNotifier adds a push notification sink for triggers.
func (m *LagMonitor) SetNotifier(n *notify.Notifier) { m.notifier = n }

// SetPriceCache mirrors live prices into the shared price cache.
func (m *LagMonitor) SetPriceCache(c domain.PriceCache) { m.prices = c }

// Run wires the feed and detector handlers and starts the poll, sweep and
// status loops. It blocks until the context is cancelled. Per-cycle errors
// are logged and never fatal.
func (m *LagMonitor) Run(ctx context.Context) error {
	m.runCtx = ctx

	m.capture.SetPriceGetter(m.livePrice)
	m.capture.SetBookGetter(m.liveBook)
	m.feed.OnPriceChange(m.onPrice)
	m.feed.OnBookUpdate(m.onBook)
	m.detector.OnAnomaly(m.onAnomaly)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.pollLoop(gctx) })
	g.Go(func() error { return m.sweepLoop(gctx) })
	g.Go(func() error { return m.statusLoop(gctx) })
	return g.Wait()
}

// --------------------------------------------------------------------------
// Poll loop
// --------------------------------------------------------------------------

func (m *LagMonitor) pollLoop(ctx context.Context) error {
	for {
		now := time.Now()
		if !m.hours.Active(now) {
			if err := m.suspend(ctx); err != nil {
				return err
			}
			continue
		}

		if err := m.poll(ctx); err != nil {
			m.logger.Error("oracle poll failed", slog.Any("error", err))
		}

		if !sleepCtx(ctx, m.pollInterval(time.Now())) {
			return ctx.Err()
		}
	}
}

// suspend runs the off-hours routine: every subscription is dropped and the
// tracked set cleared, then the loop sleeps until the window reopens. The
// next poll rebuilds everything, so a lineup change overnight never leaves
// stale games behind.
func (m *LagMonitor) suspend(ctx context.Context) error {
	m.mu.Lock()
	all := make([]string, 0, len(m.tokens))
	for id := range m.tokens {
		all = append(all, id)
	}
	m.games = make(map[string]*trackedGame)
	m.tokens = make(map[string]tokenRef)
	m.books = make(map[string]bookTop)
	m.unresolved = make(map[string]time.Time)
	m.mu.Unlock()

	if len(all) > 0 {
		if err := m.feed.Unsubscribe(all...); err != nil {
			m.logger.Warn("unsubscribe failed", slog.Any("error", err))
		}
	}

	wait := m.hours.UntilStart(time.Now())
	m.logger.Info("outside active hours, sleeping",
		slog.Duration("until_start", wait),
		slog.Int("dropped_tokens", len(all)))
	if !sleepCtx(ctx, wait) {
		return ctx.Err()
	}
	m.logger.Info("active hours resumed, rebuilding tracked games")
	return nil
}

// pollInterval returns the fast interval while a recent trigger or anomaly
// escalation is in effect, the slow interval otherwise.
func (m *LagMonitor) pollInterval(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.escalatedUntil) {
		return m.opts.TriggerInterval
	}
	return m.opts.NormalInterval
}

// poll fetches the current totals board, tracks newly seen games, persists
// snapshots and fires triggers for moves past the thresholds.
func (m *LagMonitor) poll(ctx context.Context) error {
	lines, err := m.oracle.GetTotals(ctx)
	if err != nil {
		return fmt.Errorf("monitor: fetch totals: %w", err)
	}
	m.checkCredits()

	now := time.Now()
	for i := range lines {
		m.checkLine(ctx, &lines[i], now)
	}
	return nil
}

// checkLine tracks a newly seen game or, for a tracked one, snapshots the
// fresh oracle line and fires a trigger when the move clears a threshold.
func (m *LagMonitor) checkLine(ctx context.Context, ln *oddsapi.TotalLine, now time.Time) {
	if ln.Line < m.opts.MinTotalLine || ln.Line > m.opts.MaxTotalLine {
		return
	}
	gameKey := ln.AwayTeam + "@" + ln.HomeTeam

	m.mu.Lock()
	g, tracked := m.games[gameKey]
	m.mu.Unlock()

	if !tracked {
		m.trackGame(ctx, gameKey, ln)
		return
	}

	m.snapshot(ctx, g, ln, now)

	deltaLine := ln.Line - g.line
	deltaImplied := ln.OverImplied - g.overImplied
	lineMoved := math.Abs(deltaLine) >= m.opts.LineMoveThreshold
	impliedMoved := math.Abs(deltaImplied) >= m.opts.ImpliedMoveThreshold

	if lineMoved || impliedMoved {
		trigType := domain.TriggerLineMove
		switch {
		case lineMoved && impliedMoved:
			trigType = domain.TriggerBothMove
		case impliedMoved:
			trigType = domain.TriggerImpliedMove
		}
		m.fireTrigger(ctx, g, ln, trigType, deltaLine, deltaImplied, now)
	}

	m.mu.Lock()
	g.line = ln.Line
	g.overImplied = ln.OverImplied
	m.mu.Unlock()
}

// refreshGame re-reads the totals board for a single game so an anomaly
// escalation compares against a fresh oracle line instead of waiting for the
// next poll tick.
func (m *LagMonitor) refreshGame(ctx context.Context, gameKey string) {
	lines, err := m.oracle.GetTotals(ctx)
	if err != nil {
		m.logger.Error("escalation refresh failed",
			slog.String("game", gameKey),
			slog.Any("error", err))
		return
	}
	m.checkCredits()

	now := time.Now()
	for i := range lines {
		ln := &lines[i]
		if ln.AwayTeam+"@"+ln.HomeTeam != gameKey {
			continue
		}
		m.checkLine(ctx, ln, now)
		return
	}
}

// trackGame resolves the Polymarket totals market for a newly seen oracle
// game and subscribes its tokens. Failed resolutions are retried no more
// often than the refresh interval.
func (m *LagMonitor) trackGame(ctx context.Context, gameKey string, ln *oddsapi.TotalLine) {
	m.mu.Lock()
	if last, ok := m.unresolved[gameKey]; ok && time.Since(last) < m.opts.RefreshInterval {
		m.mu.Unlock()
		return
	}
	m.unresolved[gameKey] = time.Now()
	m.mu.Unlock()

	slug := MakeGameSlug(ln.AwayTeam, ln.HomeTeam, ln.CommenceTime, m.hours.Location())
	if slug == "" {
		m.logger.Warn("unknown team, cannot build slug",
			slog.String("away", ln.AwayTeam),
			slog.String("home", ln.HomeTeam))
		return
	}

	ev, err := m.resolver.GetEventBySlug(ctx, slug)
	if err != nil {
		m.logger.Debug("no polymarket event for game",
			slog.String("slug", slug),
			slog.Any("error", err))
		return
	}

	// A slug collision resolves to the wrong event; the matchup title must
	// name both oracle teams.
	if names := titleTeams(ev.Title); len(names) == 2 {
		if MatchTeamName(ln.HomeTeam, names) == "" || MatchTeamName(ln.AwayTeam, names) == "" {
			m.logger.Warn("resolved event does not match oracle teams",
				slog.String("slug", slug),
				slog.String("title", ev.Title),
				slog.String("game", gameKey))
			return
		}
	}

	mkt, ok := closestTotalMarket(&ev, ln.Line)
	if !ok {
		m.logger.Debug("no totals market in event", slog.String("slug", slug))
		return
	}
	overToken, underToken := overUnderTokens(mkt)
	if overToken == "" {
		m.logger.Debug("totals market has no tokens", slog.String("slug", slug))
		return
	}

	g := &trackedGame{
		gameKey:     gameKey,
		oracleID:    ln.GameID,
		homeTeam:    ln.HomeTeam,
		awayTeam:    ln.AwayTeam,
		commence:    ln.CommenceTime,
		slug:        slug,
		line:        ln.Line,
		overImplied: ln.OverImplied,
		overToken:   overToken,
		underToken:  underToken,
		marketLine:  marketTotalLine(mkt),
	}

	m.mu.Lock()
	m.games[gameKey] = g
	m.tokens[overToken] = tokenRef{gameKey: gameKey, outcome: "yes"}
	if underToken != "" {
		m.tokens[underToken] = tokenRef{gameKey: gameKey, outcome: "no"}
	}
	delete(m.unresolved, gameKey)
	m.mu.Unlock()

	subs := []string{overToken}
	if underToken != "" {
		subs = append(subs, underToken)
	}
	if err := m.feed.Subscribe(subs...); err != nil {
		m.logger.Error("subscribe failed",
			slog.String("game", gameKey),
			slog.Any("error", err))
	}

	m.logger.Info("tracking game",
		slog.String("game", gameKey),
		slog.String("slug", slug),
		slog.Float64("oracle_line", ln.Line),
		slog.Float64("poly_line", g.marketLine))
}

// snapshot persists the oracle line and, when a live price exists, the
// Polymarket side for later gap analysis.
func (m *LagMonitor) snapshot(ctx context.Context, g *trackedGame, ln *oddsapi.TotalLine, now time.Time) {
	if m.snapshots == nil {
		return
	}
	oracle := domain.LineSnapshot{
		GameKey:    g.gameKey,
		Source:     domain.SnapshotOracle,
		MarketType: domain.MarketTotal,
		Line:       ln.Line,
		Implied:    ln.OverImplied,
		Time:       now,
	}
	if err := m.snapshots.Insert(ctx, oracle); err != nil {
		m.logger.Error("snapshot insert failed", slog.Any("error", err))
	}
	if price, ok := m.feed.LastPrice(g.overToken); ok {
		poly := domain.LineSnapshot{
			GameKey:    g.gameKey,
			Source:     domain.SnapshotPoly,
			MarketType: domain.MarketTotal,
			Line:       g.marketLine,
			Implied:    price,
			Time:       now,
		}
		if err := m.snapshots.Insert(ctx, poly); err != nil {
			m.logger.Error("snapshot insert failed", slog.Any("error", err))
		}
	}
}

// fireTrigger records an oracle move: a trigger row, the t0 capture anchor
// and its scheduled follow-ups, the bus message and the notification. The
// monitor stays on the fast poll interval while the escalation holds.
func (m *LagMonitor) fireTrigger(ctx context.Context, g *trackedGame, ln *oddsapi.TotalLine, trigType domain.TriggerType, deltaLine, deltaImplied float64, now time.Time) {
	refImplied := ln.OverImplied
	// When the Polymarket market tracks a different line than the oracle's
	// current one, the fair reference is the oracle's implied at the
	// market's own line, read off the alternate lines board.
	if g.marketLine != 0 && math.Abs(g.marketLine-ln.Line) > m.opts.LineMatchTolerance {
		if v, ok := m.lineImplied(ctx, g); ok {
			refImplied = v
		}
	}

	polyPrice, hasPrice := m.feed.LastPrice(g.overToken)
	gap := 0.0
	if hasPrice {
		gap = math.Abs(refImplied - polyPrice)
	}

	trig := domain.Trigger{
		ID:           uuid.NewString(),
		GameKey:      g.gameKey,
		Time:         now,
		Type:         trigType,
		PrevLine:     g.line,
		NewLine:      ln.Line,
		DeltaLine:    deltaLine,
		PrevImplied:  g.overImplied,
		NewImplied:   refImplied,
		DeltaImplied: deltaImplied,
		PolyPrice:    polyPrice,
		Gap:          gap,
	}
	if err := m.triggers.Insert(ctx, trig); err != nil {
		m.logger.Error("trigger insert failed", slog.Any("error", err))
	}

	m.logger.Info("oracle move detected",
		slog.String("game", g.gameKey),
		slog.String("type", string(trigType)),
		slog.Float64("prev_line", g.line),
		slog.Float64("new_line", ln.Line),
		slog.Float64("delta_implied", deltaImplied),
		slog.Float64("poly_price", polyPrice),
		slog.Float64("gap", gap))

	if hasPrice {
		ev := domain.MoveEvent{
			GameKey:       g.gameKey,
			MarketType:    domain.MarketTotal,
			TokenID:       g.overToken,
			OutcomeName:   "yes",
			Source:        string(trigType),
			Time:          now,
			PolyLine:      g.marketLine,
			OracleLine:    ln.Line,
			OraclePrevImp: g.overImplied,
			OracleNewImp:  refImplied,
			RefPrice:      refImplied,
			T0Price:       polyPrice,
		}
		id, err := m.capture.RecordTrigger(ctx, ev)
		if err != nil {
			m.logger.Error("capture anchor failed", slog.Any("error", err))
		} else {
			m.capture.ScheduleCaptures(ctx, id, g.gameKey, domain.MarketTotal, "yes", refImplied)
		}
	}

	if m.bus != nil {
		if payload, err := json.Marshal(trig); err == nil {
			if err := m.bus.Publish(ctx, triggerChannel, payload); err != nil {
				m.logger.Error("bus publish failed", slog.Any("error", err))
			}
			if err := m.bus.StreamAppend(ctx, triggerStream, payload); err != nil {
				m.logger.Error("stream append failed", slog.Any("error", err))
			}
		}
	}
	if m.notifier != nil {
		title := fmt.Sprintf("Line move: %s", g.gameKey)
		msg := fmt.Sprintf("%s %.1f -> %.1f (implied %.3f -> %.3f), poly %.3f, gap %.3f",
			trigType, g.line, ln.Line, g.overImplied, refImplied, polyPrice, gap)
		if err := m.notifier.Notify(ctx, notify.EventTrigger, title, msg); err != nil {
			m.logger.Error("notify failed", slog.Any("error", err))
		}
	}

	m.mu.Lock()
	m.escalatedUntil = now.Add(escalationHold)
	m.mu.Unlock()
}

// lineImplied fetches the alternate totals board and de-vigs the pair
// closest to the Polymarket market's line.
func (m *LagMonitor) lineImplied(ctx context.Context, g *trackedGame) (float64, bool) {
	game, err := m.oracle.GetEventOdds(ctx, g.oracleID, oddsapi.MarketAlternateTotals)
	if err != nil {
		m.logger.Debug("alternate lines fetch failed",
			slog.String("game", g.gameKey),
			slog.Any("error", err))
		return 0, false
	}
	book, ok := game.Bookmaker(m.opts.Bookmaker)
	if !ok {
		return 0, false
	}
	mkt, ok := book.Market(oddsapi.MarketAlternateTotals)
	if !ok {
		return 0, false
	}
	_, overOdds, underOdds, ok := oddsapi.FindLineOdds(mkt, g.marketLine, m.opts.LineMatchTolerance)
	if !ok {
		return 0, false
	}
	overImp, _ := oddsapi.DeVig(overOdds, underOdds)
	return overImp, true
}

// checkCredits warns when the oracle API credit balance runs low.
func (m *LagMonitor) checkCredits() {
	used, remaining := m.oracle.Credits()
	if remaining > 0 && remaining < int64(m.opts.CreditWarn) {
		m.logger.Warn("oracle credits running low",
			slog.Int64("used", used),
			slog.Int64("remaining", remaining))
	}
}

// --------------------------------------------------------------------------
// Convergence sweep
// --------------------------------------------------------------------------

func (m *LagMonitor) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.sweep(ctx); err != nil {
				m.logger.Error("convergence sweep failed", slog.Any("error", err))
			}
		}
	}
}

// sweep closes every open trigger whose gap has converged, recording how
// long Polymarket lagged behind the oracle.
func (m *LagMonitor) sweep(ctx context.Context) error {
	open, err := m.triggers.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list open triggers: %w", err)
	}

	now := time.Now()
	for _, t := range open {
		m.mu.Lock()
		g, ok := m.games[t.GameKey]
		m.mu.Unlock()
		if !ok {
			continue
		}
		price, ok := m.feed.LastPrice(g.overToken)
		if !ok {
			continue
		}
		gap := math.Abs(t.NewImplied - price)
		if gap > m.opts.ConvergenceGap {
			continue
		}
		lag := now.Sub(t.Time).Seconds()
		if err := m.triggers.CloseGap(ctx, t.ID, now, lag); err != nil {
			m.logger.Error("close gap failed",
				slog.String("trigger_id", t.ID),
				slog.Any("error", err))
			continue
		}
		m.logger.Info("gap converged",
			slog.String("game", t.GameKey),
			slog.String("trigger_id", t.ID),
			slog.Float64("lag_seconds", lag),
			slog.Float64("final_gap", gap))
	}
	return nil
}

// --------------------------------------------------------------------------
// Status loop
// --------------------------------------------------------------------------

func (m *LagMonitor) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.logStatus()
		}
	}
}

func (m *LagMonitor) logStatus() {
	m.mu.Lock()
	games := len(m.games)
	m.mu.Unlock()

	det := m.detector.Stats()
	caps := m.capture.Stats()
	used, remaining := m.oracle.Credits()
	m.logger.Info("lag status",
		slog.Int("games", games),
		slog.Int64("prices_processed", det.PricesProcessed),
		slog.Int64("price_anomalies", det.PriceAnomalies),
		slog.Int64("escalations", det.Escalations),
		slog.Int64("captures_completed", caps.Completed),
		slog.Int64("captures_failed", caps.Failed),
		slog.Int64("credits_used", used),
		slog.Int64("credits_remaining", remaining))
}

// --------------------------------------------------------------------------
// Feed and detector handlers
// --------------------------------------------------------------------------

func (m *LagMonitor) onPrice(p domain.PriceUpdate) {
	m.mu.Lock()
	ref, ok := m.tokens[p.AssetID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.detector.UpdatePrice(ref.gameKey, domain.MarketTotal, ref.outcome, p.Price, p.Timestamp)
	if m.prices != nil && p.Price > 0 {
		if err := m.prices.SetPrice(m.runCtx, p.AssetID, p.Price, p.Timestamp); err != nil {
			m.logger.Debug("price cache write failed", slog.Any("error", err))
		}
	}
}

func (m *LagMonitor) onBook(b domain.BookSnapshot) {
	m.mu.Lock()
	ref, ok := m.tokens[b.AssetID]
	if ok {
		m.books[b.AssetID] = bookTop{
			bid:   b.BestBid(),
			ask:   b.BestAsk(),
			depth: b.BestAskDepth(),
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.detector.UpdateOrderbook(ref.gameKey, domain.MarketTotal, ref.outcome, b.BestBid(), b.BestAsk(), b.Timestamp)
}

// onAnomaly escalates the poll cadence when the detector flags unusual
// activity on a tracked game, bounded by the per-game cooldown, and pulls a
// fresh oracle read for that game right away.
func (m *LagMonitor) onAnomaly(a domain.Anomaly) {
	if !m.detector.TryEscalate(a.GameKey, a.Time) {
		return
	}
	m.mu.Lock()
	m.escalatedUntil = a.Time.Add(escalationHold)
	m.mu.Unlock()

	m.logger.Warn("anomaly escalation",
		slog.String("game", a.GameKey),
		slog.String("type", string(a.Type)),
		slog.String("outcome", a.Outcome))

	// The handler runs on the feed goroutine; the oracle call must not block
	// message dispatch.
	if m.runCtx != nil {
		go m.refreshGame(m.runCtx, a.GameKey)
	}

	if m.notifier != nil && m.runCtx != nil {
		title := fmt.Sprintf("Anomaly: %s", a.GameKey)
		msg := fmt.Sprintf("%s on %s/%s", a.Type, a.MarketType, a.Outcome)
		if err := m.notifier.Notify(m.runCtx, notify.EventAnomaly, title, msg); err != nil {
			m.logger.Error("notify failed", slog.Any("error", err))
		}
	}
}

// --------------------------------------------------------------------------
// Capture getters
// --------------------------------------------------------------------------

// livePrice resolves an outcome to its token and returns the last feed
// price.
func (m *LagMonitor) livePrice(gameKey string, _ domain.MarketType, outcome string) (float64, bool) {
	tok := m.outcomeToken(gameKey, outcome)
	if tok == "" {
		return 0, false
	}
	return m.feed.LastPrice(tok)
}

// liveBook returns the last seen top of book for an outcome.
func (m *LagMonitor) liveBook(gameKey string, _ domain.MarketType, outcome string) (bid, ask, depth float64, ok bool) {
	tok := m.outcomeToken(gameKey, outcome)
	if tok == "" {
		return 0, 0, 0, false
	}
	m.mu.Lock()
	top, found := m.books[tok]
	m.mu.Unlock()
	if !found {
		return 0, 0, 0, false
	}
	return top.bid, top.ask, top.depth, true
}

func (m *LagMonitor) outcomeToken(gameKey, outcome string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameKey]
	if !ok {
		return ""
	}
	if strategy.NormalizeOutcome(outcome) == "no" {
		return g.underToken
	}
	return g.overToken
}

// --------------------------------------------------------------------------
// Market resolution helpers
// --------------------------------------------------------------------------

// closestTotalMarket picks the open totals market whose line sits closest to
// the oracle's current line.
func closestTotalMarket(ev *domain.Event, oracleLine float64) (*domain.Market, bool) {
	var best *domain.Market
	bestDist := math.Inf(1)
	for i := range ev.Markets {
		mkt := &ev.Markets[i]
		if mkt.Closed || len(mkt.Tokens) == 0 {
			continue
		}
		if ClassifyMarket(mkt.Question, mkt.Slug) != domain.MarketTotal {
			continue
		}
		line := marketTotalLine(mkt)
		dist := math.Abs(line - oracleLine)
		if line == 0 {
			// A totals market with no extractable line still beats
			// nothing at all.
			dist = math.Inf(1) / 2
		}
		if dist < bestDist {
			best = mkt
			bestDist = dist
		}
	}
	return best, best != nil
}

// marketTotalLine extracts the totals line from the question, falling back
// to the slug.
func marketTotalLine(mkt *domain.Market) float64 {
	if line := ExtractTotalLine(mkt.Question); line != 0 {
		return line
	}
	return ExtractTotalLine(mkt.Slug)
}

// overUnderTokens finds the Over and Under side tokens of a totals market,
// falling back to positional order for markets labeled Yes/No or unlabeled.
func overUnderTokens(mkt *domain.Market) (over, under string) {
	for _, t := range mkt.Tokens {
		switch strings.ToLower(t.Outcome) {
		case "over", "yes":
			if over == "" {
				over = t.TokenID
			}
		case "under", "no":
			if under == "" {
				under = t.TokenID
			}
		}
	}
	if over == "" && len(mkt.Tokens) > 0 {
		over = mkt.Tokens[0].TokenID
	}
	if under == "" && len(mkt.Tokens) > 1 && mkt.Tokens[1].TokenID != over {
		under = mkt.Tokens[1].TokenID
	}
	return over, under
}

// sleepCtx sleeps for d or until the context is cancelled. It reports false
// on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
