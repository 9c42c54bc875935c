package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"raptor/internal/blockchain"
	"raptor/internal/notify"
	"raptor/internal/router"
	"raptor/internal/store"
)

const (
	lamportsPerSOL = 1_000_000_000
	tokenBase      = 1_000_000 // launchpad tokens use 6 decimals

	priorityExit    = 1
	priorityManual  = 3
	priorityAutoBuy = 5

	// feeReserveLamports is the headroom kept for tx and priority fees when
	// pre-checking a buy.
	feeReserveLamports = 5_000_000
)

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// ExecutorConfig tunes the job worker.
type ExecutorConfig struct {
	Chain          store.Chain
	WorkerID       string
	PollInterval   time.Duration // default 1.5s
	ClaimLimit     int           // clamped [1,20] by the store
	Lease          time.Duration // clamped [10s,120s] by the store
	ConfirmTimeout time.Duration // default 30s
}

func (c *ExecutorConfig) clamp() {
	if c.PollInterval <= 0 {
		c.PollInterval = 1500 * time.Millisecond
	}
	if c.ClaimLimit == 0 {
		c.ClaimLimit = 5
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = router.DefaultConfirmTimeout
	}
	if c.Lease == 0 {
		c.Lease = 30 * time.Second
	}
}

// Executor claims trade jobs and runs them through the router. It is also the
// sell engine behind the exit queue.
type Executor struct {
	store    *store.Store
	gate     *Gate
	routers  *router.Factory
	rpc      *blockchain.RPCClient
	keystore *blockchain.Keystore
	cache    *blockchain.BlockhashCache
	exits    *ExitQueue
	cfg      ExecutorConfig
}

func NewExecutor(
	s *store.Store,
	gate *Gate,
	routers *router.Factory,
	rpc *blockchain.RPCClient,
	ks *blockchain.Keystore,
	cache *blockchain.BlockhashCache,
	exits *ExitQueue,
	cfg ExecutorConfig,
) *Executor {
	cfg.clamp()
	return &Executor{
		store:    s,
		gate:     gate,
		routers:  routers,
		rpc:      rpc,
		keystore: ks,
		cache:    cache,
		exits:    exits,
		cfg:      cfg,
	}
}

// Run polls the job queue until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	log.Info().
		Str("worker", e.cfg.WorkerID).
		Str("chain", string(e.cfg.Chain)).
		Msg("execution worker started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			jobs, err := e.store.ClaimJobs(ctx, e.cfg.WorkerID, e.cfg.ClaimLimit, e.cfg.Lease, e.cfg.Chain)
			if err != nil {
				log.Error().Err(err).Msg("claim jobs failed")
				continue
			}
			for _, job := range jobs {
				e.processJob(ctx, job)
			}
		}
	}
}

func (e *Executor) processJob(ctx context.Context, job *store.TradeJob) {
	ok, err := e.store.MarkJobRunning(ctx, job.ID, e.cfg.WorkerID)
	if err != nil || !ok {
		if err != nil {
			log.Error().Err(err).Int64("job", job.ID).Msg("mark running failed")
		}
		return
	}
	metricJobsClaimed.WithLabelValues(string(job.Action)).Inc()

	// The heartbeat keeps the lease alive through router calls; losing it
	// cancels the job so two workers never run the same trade.
	jobCtx, cancel := context.WithCancel(ctx)
	stopHeartbeat := e.startHeartbeat(jobCtx, job.ID, cancel)
	defer stopHeartbeat()
	defer cancel()

	var payload store.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		e.finalize(ctx, job, store.JobFailed, false, fmt.Sprintf("bad payload: %v", err))
		return
	}

	var runErr error
	var errCode string
	switch job.Action {
	case store.ActionBuy:
		errCode, runErr = e.runBuy(jobCtx, job, payload)
	case store.ActionSell:
		errCode, runErr = e.runSell(jobCtx, job, payload)
	default:
		e.finalize(ctx, job, store.JobFailed, false, "unknown action "+string(job.Action))
		return
	}

	if runErr == nil {
		e.finalize(ctx, job, store.JobDone, false, "")
		return
	}
	retryable := router.IsRetryableCode(errCode)
	log.Warn().Err(runErr).
		Int64("job", job.ID).
		Str("code", errCode).
		Bool("retryable", retryable).
		Msg("trade job failed")
	e.finalize(ctx, job, store.JobFailed, retryable, runErr.Error())

	if !retryable && job.UserID != 0 {
		e.notifyTradeFailed(ctx, job, payload, errCode)
	}
}

// startHeartbeat extends the lease every lease/2 until stopped. A lost lease
// cancels the job context.
func (e *Executor) startHeartbeat(ctx context.Context, jobID int64, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		lease := store.ClampLease(e.cfg.Lease)
		ticker := time.NewTicker(lease / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := e.store.ExtendLease(ctx, jobID, e.cfg.WorkerID, lease)
				if err != nil {
					log.Warn().Err(err).Int64("job", jobID).Msg("heartbeat failed")
					continue
				}
				if !ok {
					log.Warn().Int64("job", jobID).Msg("lease lost, abandoning job")
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (e *Executor) finalize(ctx context.Context, job *store.TradeJob, status store.JobStatus, retryable bool, msg string) {
	if err := e.store.FinalizeJob(ctx, job.ID, e.cfg.WorkerID, status, retryable, msg); err != nil {
		if errors.Is(err, store.ErrLeaseLost) {
			return // another worker owns it now
		}
		log.Error().Err(err).Int64("job", job.ID).Msg("finalize failed")
	}
}

// tradeContext is what both trade paths need loaded before touching the chain.
type tradeContext struct {
	user     *store.User
	strategy *store.Strategy
	wallet   *store.Wallet
}

func (e *Executor) loadTradeContext(ctx context.Context, userID, strategyID int64, chain store.Chain) (*tradeContext, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	strategy, err := e.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy %d: %w", strategyID, err)
	}
	wallet, err := e.store.ActiveWallet(ctx, userID, chain)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return &tradeContext{user: user, strategy: strategy, wallet: wallet}, nil
}

// withSigner decrypts the wallet key only for the duration of fn and zeroizes
// it after.
func (e *Executor) withSigner(tc *tradeContext, priorityFeeSol float64, fn func(router.Signer) error) error {
	priv, err := e.keystore.Decrypt(tc.wallet.EncryptedKey)
	if err != nil {
		return fmt.Errorf("decrypt wallet: %w", err)
	}
	w, err := blockchain.NewWallet(priv)
	if err != nil {
		return fmt.Errorf("load wallet key: %w", err)
	}
	defer w.Zeroize()

	feeLamports := uint64(priorityFeeSol * lamportsPerSOL)
	signer := blockchain.NewTransactionBuilder(w, e.cache, feeLamports)
	return fn(signer)
}

// runBuy executes the BUY path: quote, build, sign, execute, open position.
// Returns the error code for failures.
func (e *Executor) runBuy(ctx context.Context, job *store.TradeJob, payload store.JobPayload) (string, error) {
	tc, err := e.loadTradeContext(ctx, job.UserID, job.StrategyID, job.Chain)
	if err != nil {
		return router.CodeInvalidAccount, err
	}

	execID := payload.ExecutionID
	exec, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return router.CodeProgramError, fmt.Errorf("load execution %d: %w", execID, err)
	}
	if exec.Status == store.ExecConfirmed {
		return "", nil // crash recovery: trade already landed
	}

	lifecycle := store.PostGraduation
	if payload.BondingCurve != "" {
		lifecycle = store.PreGraduation
	}
	intent := router.SwapIntent{
		Chain:        job.Chain,
		Mint:         payload.TokenMint,
		Side:         router.SideBuy,
		AmountRaw:    uint64(payload.AmountSol * lamportsPerSOL),
		SlippageBps:  tc.strategy.SlippageBps,
		UserPubkey:   tc.wallet.Address,
		BondingCurve: payload.BondingCurve,
		Lifecycle:    lifecycle,
	}

	// Pre-flight balance check saves the router round trip when the wallet
	// cannot cover the buy plus fee headroom.
	tracker := blockchain.NewBalanceTracker(tc.wallet.Address, e.rpc)
	if err := tracker.Refresh(ctx); err != nil {
		log.Debug().Err(err).Str("wallet", tc.wallet.Address).Msg("balance pre-check skipped")
	} else if !tracker.HasSufficientBalance(intent.AmountRaw, feeReserveLamports) {
		return router.CodeInsufficientFunds, fmt.Errorf("wallet holds %.4f SOL, need %.4f plus fees",
			tracker.BalanceSOL(), payload.AmountSol)
	}

	result, code, err := e.swap(ctx, intent, tc, execID)
	if err != nil {
		return code, err
	}

	tokensOut := int64(result.ActualOutput)
	amountSol := payload.AmountSol
	entryPrice := 0.0
	if tokensOut > 0 {
		entryPrice = amountSol / (float64(tokensOut) / tokenBase)
	}

	st := tc.strategy
	pos := &store.Position{
		UserID:           job.UserID,
		StrategyID:       st.ID,
		CandidateID:      job.CandidateID,
		Chain:            job.Chain,
		TokenMint:        payload.TokenMint,
		EntryExecutionID: execID,
		EntryTxSig:       result.Signature,
		EntryCostSol:     amountSol,
		EntryPrice:       entryPrice,
		SizeTokens:       tokensOut,
		TPPrice:          entryPrice * (1 + st.TakeProfitPercent/100),
		SLPrice:          entryPrice * (1 - st.StopLossPercent/100),
		MaxHoldMinutes:   st.MaxHoldMinutes,
		MoonBagPercent:   st.MoonBagPercent,
		BondingCurve:     payload.BondingCurve,
		Lifecycle:        lifecycle,
	}
	if st.TrailingEnabled && st.TrailDistancePct > 0 {
		pos.TrailActivation = entryPrice * (1 + st.TrailActivationPct/100)
		pos.TrailDistancePct = st.TrailDistancePct
	}
	created, err := e.store.CreatePosition(ctx, pos)
	if err != nil {
		// The buy landed; surface the position failure loudly but do not
		// retry the swap.
		log.Error().Err(err).Str("mint", payload.TokenMint).Str("sig", result.Signature).
			Msg("buy confirmed but position insert failed")
		return "", nil
	}
	metricPositionsOpened.Inc()

	e.enqueueNotify(ctx, job.UserID, notify.TypeBuyConfirmed, notify.TradePayload{
		Chain:     job.Chain,
		Mint:      payload.TokenMint,
		Action:    store.ActionBuy,
		AmountSol: amountSol,
		TokensRaw: tokensOut,
		Price:     entryPrice,
		TxSig:     result.Signature,
	})
	e.enqueueNotify(ctx, job.UserID, notify.TypePositionOpened, notify.PositionPayload{
		Chain:        job.Chain,
		Mint:         payload.TokenMint,
		PositionUUID: created.UUID,
		EntryPrice:   entryPrice,
		EntryCostSol: amountSol,
		SizeTokens:   tokensOut,
		TPPrice:      created.TPPrice,
		SLPrice:      created.SLPrice,
		TxSig:        result.Signature,
	})

	log.Info().
		Str("mint", payload.TokenMint).
		Float64("sol", amountSol).
		Int64("tokens", tokensOut).
		Str("sig", result.Signature).
		Msg("BUY confirmed, position opened")
	return "", nil
}

// runSell executes a manual SELL job against an open position.
func (e *Executor) runSell(ctx context.Context, job *store.TradeJob, payload store.JobPayload) (string, error) {
	tc, err := e.loadTradeContext(ctx, job.UserID, job.StrategyID, job.Chain)
	if err != nil {
		return router.CodeInvalidAccount, err
	}
	pos, err := e.store.GetPosition(ctx, payload.PositionID)
	if err != nil {
		return router.CodeInvalidAccount, fmt.Errorf("load position %d: %w", payload.PositionID, err)
	}

	trigger := payload.Trigger
	if trigger == "" {
		trigger = store.TriggerManual
	}
	// Manual sells claim the exit like any trigger so the monitor backs off.
	claimed, state, err := e.store.TriggerExitAtomically(ctx, pos.ID, trigger, pos.CurrentPrice)
	if err != nil {
		return router.CodeProgramError, err
	}
	if !claimed {
		return router.CodeProgramError, fmt.Errorf("position %d exit already claimed (state %s)", pos.ID, state)
	}
	if err := e.store.MarkTriggerExecuting(ctx, pos.ID, payload.ExecutionID); err != nil {
		return router.CodeProgramError, err
	}

	sellPercent := payload.SellPercent
	if sellPercent <= 0 {
		sellPercent = 100
	}
	return e.sellPosition(ctx, tc, pos, trigger, sellPercent, payload.ExecutionID)
}

// HandleExit runs one claimed exit from the queue. The trigger is already
// claimed (TRIGGERED); this reserves the exit execution, moves to EXECUTING
// and sells. Retryable failures re-arm the monitor.
func (e *Executor) HandleExit(ctx context.Context, job *ExitJob) {
	pos := job.Position
	logEvt := log.With().
		Int64("position", pos.ID).
		Str("mint", pos.TokenMint).
		Str("trigger", string(job.Trigger)).
		Logger()

	tc, err := e.loadTradeContext(ctx, pos.UserID, pos.StrategyID, pos.Chain)
	if err != nil {
		logEvt.Error().Err(err).Msg("exit context load failed")
		e.failExit(ctx, pos.ID, true)
		return
	}

	res, err := e.gate.Reserve(ctx, store.BudgetRequest{
		Mode:           store.ModeAuto,
		UserID:         pos.UserID,
		StrategyID:     pos.StrategyID,
		Chain:          pos.Chain,
		Action:         store.ActionSell,
		TokenMint:      pos.TokenMint,
		IdempotencyKey: job.IdempotencyKey,
		AllowRetry:     true,
	}, false)
	if err != nil {
		logEvt.Error().Err(err).Msg("exit budget reserve failed")
		e.failExit(ctx, pos.ID, true)
		return
	}
	if !res.Allowed {
		// Sells are exempt from caps; only a dedupe hit lands here, meaning
		// a previous attempt confirmed.
		logEvt.Warn().Str("reason", res.ReasonCode).Msg("exit already executed")
		e.failExit(ctx, pos.ID, false)
		return
	}

	if err := e.store.MarkTriggerExecuting(ctx, pos.ID, res.ExecutionID); err != nil {
		logEvt.Error().Err(err).Msg("trigger state advance failed")
		return
	}

	code, err := e.sellPosition(ctx, tc, pos, job.Trigger, job.SellPercent, res.ExecutionID)
	if err == nil {
		metricTriggerExits.WithLabelValues(string(job.Trigger), "ok").Inc()
		return
	}
	metricTriggerExits.WithLabelValues(string(job.Trigger), "failed").Inc()
	retryable := router.IsRetryableCode(code)
	logEvt.Error().Err(err).Str("code", code).Bool("retryable", retryable).Msg("exit sell failed")
	e.failExit(ctx, pos.ID, retryable)

	if job.Trigger == store.TriggerEmergency {
		e.enqueueNotify(ctx, pos.UserID, notify.TypeEmergencySellFailed, notify.TradePayload{
			Chain:     pos.Chain,
			Mint:      pos.TokenMint,
			Action:    store.ActionSell,
			ErrorCode: code,
			Message:   router.UserMessage(code),
		})
	}
}

// failExit marks the trigger FAILED and, for retryable failures, re-arms the
// position so the monitor can claim it again. Terminal failures stay FAILED
// until the maintenance loop re-arms them after the aging window, or an
// emergency claim forces the exit.
func (e *Executor) failExit(ctx context.Context, positionID int64, rearm bool) {
	if err := e.store.MarkTriggerFailed(ctx, positionID); err != nil {
		log.Error().Err(err).Int64("position", positionID).Msg("mark trigger failed errored")
		return
	}
	if rearm {
		if err := e.store.ResetTrigger(ctx, positionID); err != nil {
			log.Error().Err(err).Int64("position", positionID).Msg("trigger reset failed")
		}
	}
}

// sellPosition sells sellPercent of the position's live balance and settles
// the position row. Shared by manual sells and queue-driven exits.
func (e *Executor) sellPosition(ctx context.Context, tc *tradeContext, pos *store.Position, trigger store.Trigger, sellPercent float64, execID int64) (string, error) {
	balance, err := e.tokenBalance(ctx, tc.wallet.Address, pos.TokenMint)
	if err != nil {
		return router.Classify(err), fmt.Errorf("fetch balance: %w", err)
	}
	if balance == 0 {
		return router.CodeInvalidAccount, fmt.Errorf("no balance for %s", pos.TokenMint)
	}
	rawAmount := rawExitAmount(balance, trigger, sellPercent)
	if rawAmount == 0 {
		return router.CodeInvalidAccount, fmt.Errorf("sell amount resolves to zero")
	}

	intent := router.SwapIntent{
		Chain:        pos.Chain,
		Mint:         pos.TokenMint,
		Side:         router.SideSell,
		AmountRaw:    rawAmount,
		SlippageBps:  tc.strategy.SlippageBps,
		UserPubkey:   tc.wallet.Address,
		BondingCurve: pos.BondingCurve,
		Lifecycle:    pos.Lifecycle,
		PositionID:   pos.ID,
	}

	// SOL delta around the swap is the authoritative output.
	solBefore, _ := e.rpc.GetBalance(ctx, tc.wallet.Address)

	result, code, err := e.swap(ctx, intent, tc, execID)
	if err != nil {
		return code, err
	}

	solAfter, balErr := e.rpc.GetBalance(ctx, tc.wallet.Address)
	solOut := 0.0
	if balErr == nil && solAfter > solBefore {
		solOut = float64(solAfter-solBefore) / lamportsPerSOL
	}

	soldFraction := float64(rawAmount) / float64(balance)
	costShare := pos.EntryCostSol * soldFraction
	pnlSol := solOut - costShare
	pnlPct := 0.0
	if costShare > 0 {
		pnlPct = pnlSol / costShare * 100
	}
	exitPrice := 0.0
	if rawAmount > 0 {
		exitPrice = solOut / (float64(rawAmount) / tokenBase)
	}

	closeFacts := store.PositionClose{
		ExitTxSig:      result.Signature,
		ExitPrice:      exitPrice,
		RealizedPnlSol: pnlSol,
		RealizedPnlPct: pnlPct,
	}

	fullExit := rawAmount == balance
	if fullExit {
		if err := e.store.ClosePosition(ctx, pos.ID, closeFacts); err != nil {
			log.Error().Err(err).Int64("position", pos.ID).Msg("close after sell failed")
		}
		metricPositionsClosed.WithLabelValues(string(trigger)).Inc()
	} else {
		remaining := int64(balance - rawAmount)
		if err := e.store.ReducePosition(ctx, pos.ID, remaining, closeFacts); err != nil {
			log.Error().Err(err).Int64("position", pos.ID).Msg("reduce after sell failed")
		}
	}

	sellType := notify.TypeSellConfirmed
	if trigger == store.TriggerEmergency {
		sellType = notify.TypeEmergencySellConfirmed
	}
	e.enqueueNotify(ctx, pos.UserID, sellType, notify.TradePayload{
		Chain:       pos.Chain,
		Mint:        pos.TokenMint,
		Symbol:      pos.TokenSymbol,
		Action:      store.ActionSell,
		AmountSol:   solOut,
		TokensRaw:   int64(rawAmount),
		Price:       exitPrice,
		TxSig:       result.Signature,
		SellPercent: sellPercent,
	})
	if fullExit {
		e.enqueueNotify(ctx, pos.UserID, notify.TypePositionClosed, notify.PositionPayload{
			Chain:          pos.Chain,
			Mint:           pos.TokenMint,
			Symbol:         pos.TokenSymbol,
			PositionUUID:   pos.UUID,
			EntryPrice:     pos.EntryPrice,
			ExitPrice:      exitPrice,
			Trigger:        trigger,
			RealizedPnlSol: pnlSol,
			RealizedPnlPct: pnlPct,
			TxSig:          result.Signature,
		})
	}

	log.Info().
		Int64("position", pos.ID).
		Str("mint", pos.TokenMint).
		Str("trigger", string(trigger)).
		Float64("sol_out", solOut).
		Float64("pnl_sol", pnlSol).
		Bool("full", fullExit).
		Msg("SELL confirmed")
	return "", nil
}

// swap drives one intent through quote, build, sign, execute, recording the
// execution row transitions. Returns the result only on confirmed success.
func (e *Executor) swap(ctx context.Context, intent router.SwapIntent, tc *tradeContext, execID int64) (*router.SwapResult, string, error) {
	r := e.routers.Select(intent)
	start := time.Now()

	quote, err := r.Quote(ctx, intent)
	if err != nil {
		code := router.Classify(err)
		e.markExecFailed(ctx, execID, err, code)
		return nil, code, fmt.Errorf("quote: %w", err)
	}

	tx, err := r.BuildTx(ctx, quote, intent)
	if err != nil {
		code := router.Classify(err)
		e.markExecFailed(ctx, execID, err, code)
		return nil, code, fmt.Errorf("build tx: %w", err)
	}

	var result *router.SwapResult
	err = e.withSigner(tc, tc.strategy.PriorityFeeSol, func(signer router.Signer) error {
		var execErr error
		result, execErr = r.Execute(ctx, tx, signer, router.ExecOptions{
			UseAntiMEV:           tc.user.AntiMEV,
			ConfirmTimeout:       e.cfg.ConfirmTimeout,
			LastValidBlockHeight: tx.LastValidBlockHeight,
		})
		return execErr
	})
	if err != nil {
		code := router.Classify(err)
		e.markExecFailed(ctx, execID, err, code)
		return nil, code, err
	}

	if result.Signature != "" {
		if err := e.store.MarkExecutionSubmitted(ctx, execID, result.Signature); err != nil {
			log.Warn().Err(err).Int64("exec", execID).Msg("mark submitted failed")
		}
	}
	if !result.Success {
		e.markExecFailed(ctx, execID, result.Err, result.ErrorCode)
		return nil, result.ErrorCode, fmt.Errorf("execute via %s: %w", result.Router, result.Err)
	}

	pricePerToken := 0.0
	if result.ActualOutput > 0 && intent.Side == router.SideBuy {
		pricePerToken = (float64(intent.AmountRaw) / lamportsPerSOL) / (float64(result.ActualOutput) / tokenBase)
	}
	if err := e.store.MarkExecutionConfirmed(ctx, execID, store.ExecUpdate{
		TxSig:         result.Signature,
		TokensOut:     int64(result.ActualOutput),
		PricePerToken: pricePerToken,
	}); err != nil {
		log.Error().Err(err).Int64("exec", execID).Msg("mark confirmed failed")
	}
	metricSwapDuration.WithLabelValues(r.Name(), string(intent.Side)).Observe(time.Since(start).Seconds())
	metricExecutions.WithLabelValues(r.Name(), "confirmed").Inc()
	return result, "", nil
}

func (e *Executor) markExecFailed(ctx context.Context, execID int64, cause error, code string) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := e.store.MarkExecutionFailed(ctx, execID, msg, code); err != nil {
		log.Warn().Err(err).Int64("exec", execID).Msg("mark failed errored")
	}
	metricExecutions.WithLabelValues("", "failed").Inc()
}

func (e *Executor) tokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	accounts, err := e.rpc.GetTokenAccountsByOwner(ctx, owner, mint)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, acc := range accounts {
		total += acc.Amount
	}
	return total, nil
}

func (e *Executor) enqueueNotify(ctx context.Context, userID int64, typ string, payload interface{}) {
	if err := e.store.EnqueueNotification(ctx, nil, userID, typ, notify.Marshal(payload)); err != nil {
		log.Error().Err(err).Int64("user", userID).Str("type", typ).Msg("enqueue notification failed")
	}
}

// notifyTradeFailed tells the user about a terminally failed job in plain
// language. Retryable failures stay silent until the retries run out.
func (e *Executor) notifyTradeFailed(ctx context.Context, job *store.TradeJob, payload store.JobPayload, errCode string) {
	e.enqueueNotify(ctx, job.UserID, notify.TypeTradeFailed, notify.TradePayload{
		Chain:     job.Chain,
		Mint:      payload.TokenMint,
		Action:    job.Action,
		AmountSol: payload.AmountSol,
		ErrorCode: errCode,
		Message:   router.UserMessage(errCode),
	})
}

// EmergencySell claims an immediate exit for a position, bypassing the
// monitor, and queues it at maximum priority.
func (e *Executor) EmergencySell(ctx context.Context, positionID int64) error {
	pos, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	claimed, state, err := e.store.TriggerExitAtomically(ctx, pos.ID, store.TriggerEmergency, pos.CurrentPrice)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("position %d already exiting (state %s)", pos.ID, state)
	}

	e.enqueueNotify(ctx, pos.UserID, notify.TypeEmergencySellStarted, notify.TradePayload{
		Chain:  pos.Chain,
		Mint:   pos.TokenMint,
		Symbol: pos.TokenSymbol,
		Action: store.ActionSell,
	})

	return e.exits.Push(&ExitJob{
		Position:       pos,
		Trigger:        store.TriggerEmergency,
		TriggerPrice:   pos.CurrentPrice,
		SellPercent:    100,
		IdempotencyKey: ExitIdempotencyKey(pos.Chain, pos.TokenMint, pos.ID, store.TriggerEmergency, 100),
	})
}
