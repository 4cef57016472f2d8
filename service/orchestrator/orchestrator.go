// Package orchestrator drives the token list and balance fetches behind an
// interactive search: it debounces input, cancels superseded balance batches
// and merges every result into one serialized State.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/tokensync/service/metrics"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/tokens"
)

// DefaultDebounce is how long search input must stay unchanged before it settles.
const DefaultDebounce = 300 * time.Millisecond

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(o *Orchestrator) { o.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator owns the token list state. All methods are safe for
// concurrent use and none of them block on the network.
type Orchestrator struct {
	svc      tokens.Service
	debounce time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	search chan string
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	started     bool
	closed      bool
	lastSettled string
	listGen     uint64
	batchGen    uint64
	batchCancel context.CancelFunc
	// batchCtx, batchAddrs and batchListGen describe the running batch.
	batchCtx     context.Context
	batchAddrs   map[string]bool
	batchListGen uint64
	subs        map[int]chan State
	nextSub     int
}

// New creates an Orchestrator. Call Start to begin loading.
func New(svc tokens.Service, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		svc:      svc,
		debounce: DefaultDebounce,
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		search:   make(chan string, 1),
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start runs the debounce loop and the initial token list load. Work stops
// when ctx is cancelled or Close is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started || o.closed {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.wg.Add(1)
	o.mu.Unlock()

	context.AfterFunc(ctx, o.cancel)
	go o.debounceLoop()

	o.LoadTokens(false)
}

// Close cancels all in-flight work, waits for it to stop and closes every
// subscription.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()

	o.mu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.mu.Unlock()
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// DisplayedTokens returns the rows matching the current search text.
func (o *Orchestrator) DisplayedTokens() []TokenView {
	return o.State().DisplayedTokens()
}

// ErrorDisplay returns how the current token list error should be shown.
func (o *Orchestrator) ErrorDisplay() ErrorDisplay {
	return o.State().ErrorDisplay()
}

// Subscribe returns a channel receiving a snapshot after every change,
// starting with the current state. A slow subscriber only sees the latest
// snapshot. Call the returned func to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.state.clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if sub, ok := o.subs[id]; ok {
				close(sub)
				delete(o.subs, id)
			}
		})
	}
}

// LoadTokens loads the token list. Without force it does nothing once a load
// has started; with force it always reloads and resets every balance.
func (o *Orchestrator) LoadTokens(force bool) {
	o.mu.Lock()
	if o.closed || (!force && o.state.Status != NotLoaded) {
		o.mu.Unlock()
		return
	}
	o.listGen++
	gen := o.listGen
	o.state.Status = Loading
	o.state.Error = ""
	o.publishLocked()
	o.wg.Add(1)
	o.mu.Unlock()

	go o.runLoad(gen, force)
}

// RetryLoadTokens forces a reload of the token list.
func (o *Orchestrator) RetryLoadTokens() {
	o.LoadTokens(true)
}

// SetSearchText records new search input. It settles after the debounce delay.
func (o *Orchestrator) SetSearchText(text string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.state.SearchText = text
	o.publishLocked()

	// Only the newest unread input matters to the debounce loop.
	select {
	case <-o.search:
	default:
	}
	o.search <- text
	o.mu.Unlock()
}

// RetryBalance resets one token's balance to Loading and force-fetches it.
// It runs alongside any balance batch and is not cancelled by a new search.
func (o *Orchestrator) RetryBalance(address string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if !o.setBalanceLocked(address, outcome.Loading[string]()) {
		o.mu.Unlock()
		return
	}
	o.publishLocked()
	listGen := o.listGen
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.RecordBalanceFetch("retry")
	go o.fetchBalance(o.ctx, address, true, listGen, nil)
}

// DismissError hides a banner error. A full-screen error stays until a load
// succeeds.
func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.HasLoaded || o.state.Error == "" {
		return
	}
	o.state.Error = ""
	if o.state.Status == LoadedWithError {
		o.state.Status = Loaded
	}
	o.publishLocked()
}

// ClearCache cancels the running balance batch, purges the cache, empties
// the in-memory list and starts a fresh load. The search is kept, so the
// reload fetches the balances it matches. The reload runs even when the
// purge fails; the purge error is returned.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.cancelBatchLocked()
	o.listGen++
	o.state = State{SearchText: o.state.SearchText, SettledQuery: o.state.SettledQuery}
	o.publishLocked()
	o.mu.Unlock()

	err := o.svc.ClearCache(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to clear cache", "error", err)
	}

	o.LoadTokens(false)
	return err
}

func (o *Orchestrator) runLoad(gen uint64, force bool) {
	defer o.wg.Done()

	for res := range o.svc.GetTopTokens(o.ctx, force) {
		o.mu.Lock()
		if gen != o.listGen {
			o.mu.Unlock()
			continue
		}

		switch {
		case res.IsLoading():
			o.state.Status = Loading
		case res.IsSuccess():
			list, _ := res.Get()
			o.applyListLocked(list, force)
			if !force {
				o.fetchMatchesLocked(o.lastSettled, true, "reload")
			}
		case res.IsError():
			o.state.Status = LoadedWithError
			o.state.Error = res.Err().Message
			o.logger.Error("failed to load tokens", "error", res.Err().Message, "has_loaded", o.state.HasLoaded)
		}
		o.publishLocked()
		o.mu.Unlock()
	}
}

// applyListLocked rebuilds the rows from list. Unforced loads keep the
// balance of tokens that were already listed.
func (o *Orchestrator) applyListLocked(list []tokens.Token, force bool) {
	now := o.now()
	previous := make(map[string]TokenView, len(o.state.Tokens))
	if !force {
		for _, v := range o.state.Tokens {
			previous[v.Address] = v
		}
	}

	rows := make([]TokenView, len(list))
	for i, t := range list {
		rows[i] = newTokenView(t, now)
		if prev, ok := previous[t.Address]; ok && !prev.Balance.IsLoading() {
			rows[i].Balance = prev.Balance
			rows[i].LastUpdated = prev.LastUpdated
		}
	}

	o.state.Tokens = rows
	o.state.Status = Loaded
	o.state.Error = ""
	o.state.HasLoaded = true
}

func (o *Orchestrator) debounceLoop() {
	defer o.wg.Done()

	timer := time.NewTimer(o.debounce)
	timer.Stop()
	var pending string

	for {
		select {
		case <-o.ctx.Done():
			timer.Stop()
			return
		case text := <-o.search:
			pending = text
			timer.Reset(o.debounce)
		case <-timer.C:
			o.settle(pending)
		}
	}
}

// settle starts a balance batch for query unless it equals the previous
// settled query. A query settled before the list loads is fetched when the
// list arrives.
func (o *Orchestrator) settle(query string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || query == o.lastSettled {
		return
	}
	o.lastSettled = query
	o.state.SettledQuery = query
	o.cancelBatchLocked()
	o.publishLocked()

	o.fetchMatchesLocked(query, false, "search")
}

// fetchMatchesLocked fetches the balances of the rows matching query within
// the running batch, starting a batch when none runs for the current list.
// With pendingOnly, rows that have resolved or that the batch already
// fetches are skipped.
func (o *Orchestrator) fetchMatchesLocked(query string, pendingOnly bool, trigger string) {
	if strings.TrimSpace(query) == "" {
		return
	}
	if o.batchCancel != nil && o.batchListGen != o.listGen {
		o.cancelBatchLocked()
	}

	var matched []string
	for _, t := range o.state.Tokens {
		if !t.Matches(query) {
			continue
		}
		if pendingOnly && (!t.Balance.IsLoading() || o.batchAddrs[t.Address]) {
			continue
		}
		matched = append(matched, t.Address)
	}
	if len(matched) == 0 {
		return
	}

	if o.batchCancel == nil {
		o.batchCtx, o.batchCancel = context.WithCancel(o.ctx)
		o.batchAddrs = make(map[string]bool)
		o.batchListGen = o.listGen
		o.metrics.RecordBalanceBatch("started")
	}
	gen := o.batchGen
	o.logger.Debug("fetching balances", "query", query, "trigger", trigger, "tokens", len(matched))

	for _, addr := range matched {
		o.batchAddrs[addr] = true
		o.wg.Add(1)
		o.metrics.RecordBalanceFetch(trigger)
		go o.fetchBalance(o.batchCtx, addr, false, o.batchListGen, &gen)
	}
}

// cancelBatchLocked stops the running batch. Tasks of the old generation
// discard anything they receive afterwards.
func (o *Orchestrator) cancelBatchLocked() {
	o.batchGen++
	if o.batchCancel != nil {
		o.batchCancel()
		o.batchCancel = nil
		o.metrics.RecordBalanceBatch("cancelled")
	}
	o.batchCtx = nil
	o.batchAddrs = nil
}

// fetchBalance merges one balance stream into the state. batchGen is nil
// for a retry, which only stops writing when the list is replaced by a
// cache clear.
func (o *Orchestrator) fetchBalance(ctx context.Context, address string, force bool, listGen uint64, batchGen *uint64) {
	defer o.wg.Done()

	for res := range o.svc.GetTokenBalance(ctx, address, force) {
		o.mu.Lock()
		stale := listGen != o.listGen || (batchGen != nil && *batchGen != o.batchGen) || ctx.Err() != nil
		if stale {
			o.mu.Unlock()
			return
		}

		view, ok := o.state.Token(address)
		if ok {
			formatted := outcome.Map(res, func(raw string) (string, error) {
				return tokens.FormatBalance(raw, view.Decimals), nil
			})
			o.setBalanceLocked(address, formatted)
			o.publishLocked()
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) setBalanceLocked(address string, balance outcome.Outcome[string]) bool {
	for i := range o.state.Tokens {
		if o.state.Tokens[i].Address == address {
			o.state.Tokens[i].Balance = balance
			o.state.Tokens[i].LastUpdated = o.now()
			return true
		}
	}
	return false
}

func (o *Orchestrator) publishLocked() {
	if len(o.subs) == 0 {
		return
	}
	snapshot := o.state.clone()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
