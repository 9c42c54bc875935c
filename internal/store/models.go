package store

import (
	"encoding/json"
	"time"
)

// Chain identifies the network a record belongs to.
type Chain string

const (
	ChainSolana Chain = "SOL"
)

// Action is the trade direction of a job or execution.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// JobStatus is the trade_jobs lifecycle.
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobRunning  JobStatus = "RUNNING"
	JobDone     JobStatus = "DONE"
	JobFailed   JobStatus = "FAILED"
	JobCanceled JobStatus = "CANCELED"
)

// ExecStatus is the executions state machine: RESERVED -> SUBMITTED -> CONFIRMED|FAILED.
type ExecStatus string

const (
	ExecReserved  ExecStatus = "RESERVED"
	ExecSubmitted ExecStatus = "SUBMITTED"
	ExecConfirmed ExecStatus = "CONFIRMED"
	ExecFailed    ExecStatus = "FAILED"
)

// ExecMode distinguishes auto-queued trades from user-initiated ones.
type ExecMode string

const (
	ModeAuto   ExecMode = "AUTO"
	ModeManual ExecMode = "MANUAL"
)

// PositionStatus is the coarse position lifecycle.
type PositionStatus string

const (
	PositionActive           PositionStatus = "ACTIVE"
	PositionClosing          PositionStatus = "CLOSING"
	PositionClosingEmergency PositionStatus = "CLOSING_EMERGENCY"
	PositionClosed           PositionStatus = "CLOSED"
)

// TriggerState is the per-position exit claim machine. Transitions are
// MONITORING -> TRIGGERED -> EXECUTING -> COMPLETED|FAILED, with
// FAILED -> MONITORING allowed on retry.
type TriggerState string

const (
	TriggerMonitoring TriggerState = "MONITORING"
	TriggerTriggered  TriggerState = "TRIGGERED"
	TriggerExecuting  TriggerState = "EXECUTING"
	TriggerCompleted  TriggerState = "COMPLETED"
	TriggerFailed     TriggerState = "FAILED"
)

// Trigger names the exit condition that claimed a position.
type Trigger string

const (
	TriggerTP        Trigger = "TP"
	TriggerSL        Trigger = "SL"
	TriggerTrail     Trigger = "TRAIL"
	TriggerMaxHold   Trigger = "MAXHOLD"
	TriggerEmergency Trigger = "EMERGENCY"
	TriggerManual    Trigger = "MANUAL"
)

// LifecycleState selects the router for a position's token.
type LifecycleState string

const (
	PreGraduation  LifecycleState = "PRE_GRADUATION"
	PostGraduation LifecycleState = "POST_GRADUATION"
	LifecycleClosed LifecycleState = "CLOSED"
)

// CandidateStatus is the launch_candidates lifecycle.
type CandidateStatus string

const (
	CandidateNew      CandidateStatus = "new"
	CandidateAccepted CandidateStatus = "accepted"
	CandidateRejected CandidateStatus = "rejected"
	CandidateExpired  CandidateStatus = "expired"
)

// NotificationStatus is the outbox delivery lifecycle.
type NotificationStatus string

const (
	NotifPending NotificationStatus = "pending"
	NotifSending NotificationStatus = "sending"
	NotifSent    NotificationStatus = "sent"
	NotifFailed  NotificationStatus = "failed"
)

// CooldownKind scopes a cooldown target.
type CooldownKind string

const (
	CooldownMint     CooldownKind = "MINT"
	CooldownUserMint CooldownKind = "USER_MINT"
	CooldownDeployer CooldownKind = "DEPLOYER"
)

// StrategyKind is the strategy variant.
type StrategyKind string

const (
	StrategyManual StrategyKind = "MANUAL"
	StrategyAuto   StrategyKind = "AUTO"
)

// User is keyed by the external chat id.
type User struct {
	ID          int64
	ChatID      int64
	SlippageBps int
	PriorityFee float64 // SOL
	AntiMEV     bool
	CreatedAt   time.Time
}

// Wallet holds encrypted key material for a user on a chain. At most one
// wallet per (user, chain) is active.
type Wallet struct {
	ID           int64
	UserID       int64
	Chain        Chain
	WalletIndex  int // 1..5
	Label        string
	Address      string
	EncryptedKey []byte
	IsActive     bool
	CreatedAt    time.Time
}

// Strategy is the per-user, per-chain trade policy. Exactly one
// (user, kind, chain) row exists; writes upsert.
type Strategy struct {
	ID                 int64
	UserID             int64
	Chain              Chain
	Kind               StrategyKind
	Enabled            bool
	AutoExecute        bool
	RiskProfile        string
	MaxPositions       int
	PerTradeCapSol     float64
	DailyCapSol        float64
	MaxOpenExposureSol float64
	SlippageBps        int
	PriorityFeeSol     float64
	TakeProfitPercent  float64
	StopLossPercent    float64
	MaxHoldMinutes     int
	TrailingEnabled    bool
	TrailActivationPct float64
	TrailDistancePct   float64
	MoonBagPercent     float64
	MinScore           float64
	Launchpads         []string
	CooldownSeconds    int
	AllowList          []string
	DenyList           []string
	SnipeMode          string
	FilterMode         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LaunchCandidate is a normalized discovery event, unique per
// (chain, source, token_mint).
type LaunchCandidate struct {
	ID              int64
	Chain           Chain
	Source          string
	TokenMint       string
	Name            string
	Symbol          string
	Score           float64
	Deployer        string
	BondingCurve    string
	InitialLiqSol   float64
	Raw             json.RawMessage
	Status          CandidateStatus
	FirstSeenAt     time.Time
}

// TradeJob is a claimable unit of work.
type TradeJob struct {
	ID              int64
	StrategyID      int64
	UserID          int64
	Chain           Chain
	Action          Action
	CandidateID     *int64
	Priority        int
	Payload         json.RawMessage
	IdempotencyKey  string
	Status          JobStatus
	Attempts        int
	MaxAttempts     int
	WorkerID        *string
	LeaseExpiresAt  *time.Time
	NextAvailableAt *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobPayload is the JSON body of a trade job.
type JobPayload struct {
	TokenMint    string  `json:"token_mint"`
	AmountSol    float64 `json:"amount_sol,omitempty"`
	SellPercent  float64 `json:"sell_percent,omitempty"`
	PositionID   int64   `json:"position_id,omitempty"`
	Trigger      Trigger `json:"trigger,omitempty"`
	BondingCurve string  `json:"bonding_curve,omitempty"`
	ExecutionID  int64   `json:"execution_id,omitempty"`
}

// Execution is the immutable record of a single trade attempt, anchored to an
// idempotency key.
type Execution struct {
	ID             int64
	IdempotencyKey string
	UserID         int64
	Mint           string
	Action         Action
	Mode           ExecMode
	Status         ExecStatus
	TxSig          *string
	AmountSol      float64
	TokensOut      int64 // raw base units
	PricePerToken  float64
	Error          string
	ErrorCode      string
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Position is a held token balance with exit thresholds fixed at entry.
type Position struct {
	ID               int64
	UUID             string
	UserID           int64
	StrategyID       int64
	CandidateID      *int64
	Chain            Chain
	TokenMint        string
	TokenSymbol      string
	TokenName        string
	EntryExecutionID int64
	EntryTxSig       string
	EntryCostSol     float64
	EntryPrice       float64
	SizeTokens       int64 // raw base units
	CurrentPrice     float64
	PeakPrice        float64
	TrailingStop     float64
	TPPrice          float64
	SLPrice          float64
	TrailActivation  float64 // 0 disables trailing
	TrailDistancePct float64
	MaxHoldMinutes   int // 0 disables the time exit
	MoonBagPercent   float64
	BondingCurve     string
	EntryMcSol       float64
	Lifecycle        LifecycleState
	Status           PositionStatus
	TriggerState     TriggerState
	ExitTrigger      *Trigger
	TriggerPrice     float64
	ExitExecutionID  *int64
	ExitTxSig        *string
	ExitPrice        float64
	RealizedPnlSol   float64
	RealizedPnlPct   float64
	OpenedAt         time.Time
	PriceUpdatedAt   time.Time
	ClosedAt         *time.Time
}

// TradeMonitor is a user-visible panel row, active at most once per (user, mint).
type TradeMonitor struct {
	ID           int64
	UserID       int64
	Mint         string
	ChatID       int64
	MessageID    int64
	EntryPrice   float64
	CurrentPrice float64
	ValueSol     float64
	PnlPercent   float64
	McapSol      float64
	LiquiditySol float64
	Status       string // ACTIVE|PAUSED|EXPIRED|CLOSED
	CurrentView  string // MONITOR|SELL|TOKEN
	ExpiresAt    time.Time
	RefreshedAt  time.Time
	RefreshCount int
}

// Notification is an outbox row delivered at-least-once to the chat surface.
type Notification struct {
	ID               int64
	UserID           int64
	Type             string
	Payload          json.RawMessage
	Status           NotificationStatus
	Attempts         int
	MaxAttempts      int
	SendingExpiresAt *time.Time
	WorkerID         *string
	LastError        string
	CreatedAt        time.Time
	SentAt           *time.Time
}

// Cooldown suppresses activity on a target until cooldown_until.
type Cooldown struct {
	Chain         Chain
	Kind          CooldownKind
	Target        string
	CooldownUntil time.Time
	Reason        string
}

// SafetyControls is the GLOBAL singleton consulted by the budget gate.
type SafetyControls struct {
	Scope            string
	TradingPaused    bool
	CircuitOpenUntil *time.Time
	UpdatedAt        time.Time
}
