package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantpulse/tradingkb/internal/id"
	"github.com/quantpulse/tradingkb/internal/observ"
)

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
	Hold Action = "hold"
)

type Result string

const (
	ResultSuccess   Result = "success"
	ResultError     Result = "error"
	ResultCancelled Result = "cancelled"
)

// Snapshot captures the indicators visible when a decision was made.
// Optional indicators are pointers: absent means the data feed did not
// supply them, which scores differently from a zero reading.
type Snapshot struct {
	Price   float64  `json:"price"`
	RSI     *float64 `json:"rsi,omitempty"`
	MA50    *float64 `json:"ma_50,omitempty"`
	MA200   *float64 `json:"ma_200,omitempty"`
	VWAP    *float64 `json:"vwap,omitempty"`
	DayHigh *float64 `json:"day_high,omitempty"`
	DayLow  *float64 `json:"day_low,omitempty"`
}

// Decision is one AI-proposed action. Immutable once buffered.
type Decision struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Action    Action    `json:"action"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Snapshot  Snapshot  `json:"snapshot"`
	Timestamp time.Time `json:"timestamp"`
}

type TradeOutcome struct {
	Result    Result    `json:"result"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// DaySnapshot is the read-only view handed to EOD review.
type DaySnapshot struct {
	Date       string                  `json:"date"`
	StartValue float64                 `json:"start_of_day_value"`
	Decisions  []Decision              `json:"decisions"`
	Outcomes   map[string]TradeOutcome `json:"outcomes"`
}

type state struct {
	Date       string                  `json:"date"`
	StartValue float64                 `json:"start_of_day_value"`
	Decisions  []Decision              `json:"decisions"`
	Outcomes   map[string]TradeOutcome `json:"outcomes"`
}

// DecisionBuffer accumulates one trading day's decisions, persisting the
// whole buffer to disk on every mutation so a crash loses at most the
// in-flight call. It never writes to the knowledge base.
type DecisionBuffer struct {
	mu   sync.Mutex
	path string
	st   state

	now func() time.Time
}

// New opens the buffer at path, reloading any artifact a previous process
// left behind (crash recovery). An unreadable artifact is logged and
// treated as empty; the file itself is left in place until the next write.
func New(path string) *DecisionBuffer {
	b := &DecisionBuffer{
		path: path,
		st:   state{Outcomes: map[string]TradeOutcome{}},
		now:  time.Now,
	}
	b.load()
	return b
}

func (b *DecisionBuffer) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			observ.Warn("buffer_load_failed", map[string]any{"path": b.path, "error": err.Error()})
		}
		return
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		observ.Warn("buffer_corrupt", map[string]any{"path": b.path, "error": err.Error()})
		return
	}
	if st.Outcomes == nil {
		st.Outcomes = map[string]TradeOutcome{}
	}
	b.st = st
	observ.Log("buffer_recovered", map[string]any{
		"path":      b.path,
		"date":      st.Date,
		"decisions": len(st.Decisions),
	})
}

func (b *DecisionBuffer) persist() error {
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("buffer dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(b.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal buffer: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace buffer: %w", err)
	}
	return nil
}

// StartNewDay resets the buffer for a new date. Leftover decisions from a
// prior day mean EOD review never ran; that is surfaced as a warning, not
// an error, and never blocks the new day.
func (b *DecisionBuffer) StartNewDay(portfolioValue float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	today := b.now().UTC().Format("2006-01-02")
	if b.st.Date != "" && b.st.Date != today && len(b.st.Decisions) > 0 {
		observ.Warn("buffer_stale_day", map[string]any{
			"stale_date": b.st.Date,
			"decisions":  len(b.st.Decisions),
		})
	}

	prev := b.st
	b.st = state{
		Date:       today,
		StartValue: portfolioValue,
		Outcomes:   map[string]TradeOutcome{},
	}
	if err := b.persist(); err != nil {
		b.st = prev
		return err
	}
	observ.Log("buffer_day_started", map[string]any{"date": today, "portfolio_value": portfolioValue})
	return nil
}

// RecordDecision appends a decision and persists before returning
// (write-through; crash recovery depends on this ordering). A zero
// timestamp defaults to now.
func (b *DecisionBuffer) RecordDecision(symbol string, action Action, quantity float64, snap Snapshot, ts time.Time) (Decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ts.IsZero() {
		ts = b.now().UTC()
	}
	d := Decision{
		ID:        id.New(),
		Symbol:    symbol,
		Action:    action,
		Quantity:  quantity,
		Price:     snap.Price,
		Snapshot:  snap,
		Timestamp: ts,
	}
	b.st.Decisions = append(b.st.Decisions, d)
	if err := b.persist(); err != nil {
		b.st.Decisions = b.st.Decisions[:len(b.st.Decisions)-1]
		return Decision{}, err
	}
	observ.IncCounter("decisions_recorded", map[string]string{"action": string(action)})
	return d, nil
}

// RecordTradeResult attaches an execution outcome keyed by symbol.
// Last write wins when the executor reports twice in a cycle.
func (b *DecisionBuffer) RecordTradeResult(symbol string, result Result, details string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.st.Outcomes[symbol] = TradeOutcome{
		Result:    result,
		Details:   details,
		Timestamp: b.now().UTC(),
	}
	return b.persist()
}

// SnapshotForEOD returns a deep copy; the caller cannot mutate the buffer
// through it.
func (b *DecisionBuffer) SnapshotForEOD() DaySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := DaySnapshot{
		Date:       b.st.Date,
		StartValue: b.st.StartValue,
		Decisions:  make([]Decision, len(b.st.Decisions)),
		Outcomes:   make(map[string]TradeOutcome, len(b.st.Outcomes)),
	}
	copy(snap.Decisions, b.st.Decisions)
	for k, v := range b.st.Outcomes {
		snap.Outcomes[k] = v
	}
	return snap
}

// Clear empties the buffer and removes the durable artifact. Idempotent:
// clearing an already-empty buffer is a no-op.
func (b *DecisionBuffer) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.st = state{Outcomes: map[string]TradeOutcome{}}
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove buffer artifact: %w", err)
	}
	observ.Log("buffer_cleared", map[string]any{"path": b.path})
	return nil
}

func (b *DecisionBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.st.Decisions)
}

// SuccessfulDecisions filters to decisions whose symbol has a successful
// execution result. Only these are graded at EOD.
func (b *DecisionBuffer) SuccessfulDecisions() []Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Decision
	for _, d := range b.st.Decisions {
		if o, ok := b.st.Outcomes[d.Symbol]; ok && o.Result == ResultSuccess {
			out = append(out, d)
		}
	}
	return out
}
