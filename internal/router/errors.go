package router

import (
	"context"
	"errors"
	"strings"
)

// Canonical trade error codes. Retryable codes describe transient chain or
// network conditions; everything else is terminal for the attempt.
const (
	CodeRPCTimeout       = "RPC_TIMEOUT"
	CodeRPCRateLimited   = "RPC_RATE_LIMITED"
	CodeBlockhashExpired = "BLOCKHASH_EXPIRED"
	CodeSlotDropped      = "SLOT_DROPPED"
	CodeNetworkError     = "NETWORK_ERROR"

	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeSlippageExceeded    = "SLIPPAGE_EXCEEDED"
	CodeInvalidAccount      = "INVALID_ACCOUNT"
	CodeHoneypotDetected    = "HONEYPOT_DETECTED"
	CodeTokenFrozen         = "TOKEN_FROZEN"
	CodeProgramError        = "PROGRAM_ERROR"
	CodeSimulationFailed    = "SIMULATION_FAILED"
	CodeTokenBlacklisted    = "TOKEN_BLACKLISTED"
	CodeDeployerBlacklisted = "DEPLOYER_BLACKLISTED"
	CodeBudgetExceeded      = "BUDGET_EXCEEDED"
	CodeCooldownActive      = "COOLDOWN_ACTIVE"
	CodeTradingPaused       = "TRADING_PAUSED"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
)

var retryableCodes = map[string]bool{
	CodeRPCTimeout:       true,
	CodeRPCRateLimited:   true,
	CodeBlockhashExpired: true,
	CodeSlotDropped:      true,
	CodeNetworkError:     true,
}

// IsRetryableCode reports whether a code marks a transient failure.
func IsRetryableCode(code string) bool {
	return retryableCodes[code]
}

// Classify maps a raw router or RPC error onto the canonical code set.
// Unknown errors land on PROGRAM_ERROR so an unclassified failure can never
// retry indefinitely.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeRPCTimeout
	}

	raw := strings.ToLower(err.Error())
	switch {
	case contains(raw, "blockhash not found"),
		contains(raw, "block height exceeded"),
		contains(raw, "transaction expired"):
		return CodeBlockhashExpired

	case contains(raw, "429"),
		contains(raw, "rate limit"),
		contains(raw, "too many requests"):
		return CodeRPCRateLimited

	case contains(raw, "timeout"),
		contains(raw, "deadline exceeded"):
		return CodeRPCTimeout

	case contains(raw, "slot was skipped"),
		contains(raw, "minimum context slot"):
		return CodeSlotDropped

	case contains(raw, "connection refused"),
		contains(raw, "connection reset"),
		contains(raw, "no such host"),
		contains(raw, "eof"):
		return CodeNetworkError

	case contains(raw, "insufficient funds"),
		contains(raw, "insufficient lamports"),
		contains(raw, "no record of a prior credit"):
		return CodeInsufficientFunds

	case contains(raw, "slippage"),
		contains(raw, "exceededslippage"),
		contains(raw, "0x1771"): // pump.fun TooMuchSolRequired
		return CodeSlippageExceeded

	case contains(raw, "account not found"),
		contains(raw, "accountnotfound"),
		contains(raw, "invalid account"):
		return CodeInvalidAccount

	case contains(raw, "account is frozen"),
		contains(raw, "frozen"):
		return CodeTokenFrozen

	case contains(raw, "simulation failed"):
		return CodeSimulationFailed

	default:
		return CodeProgramError
	}
}

// IsRetryable reports whether the error classifies as transient.
func IsRetryable(err error) bool {
	return IsRetryableCode(Classify(err))
}

// UserMessage translates a code into the message surfaced through the outbox.
func UserMessage(code string) string {
	switch code {
	case CodeInsufficientFunds:
		return "Insufficient balance for trade and fees"
	case CodeSlippageExceeded:
		return "Price moved beyond slippage tolerance"
	case CodeInvalidAccount:
		return "Required account missing on-chain"
	case CodeHoneypotDetected:
		return "Token rejected: sell path appears blocked"
	case CodeTokenFrozen:
		return "Token account is frozen"
	case CodeSimulationFailed:
		return "Transaction simulation failed"
	case CodeTokenBlacklisted:
		return "Token is blacklisted"
	case CodeDeployerBlacklisted:
		return "Deployer is blacklisted"
	case CodeBudgetExceeded:
		return "Trade exceeds configured budget"
	case CodeCooldownActive:
		return "Cooldown active for this token"
	case CodeTradingPaused:
		return "Trading is paused"
	case CodeCircuitOpen:
		return "Trading circuit breaker is open"
	case CodeRPCTimeout, CodeRPCRateLimited, CodeBlockhashExpired,
		CodeSlotDropped, CodeNetworkError:
		return "Network congestion, trade did not complete"
	default:
		return "Trade failed"
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, strings.ToLower(substr))
}
