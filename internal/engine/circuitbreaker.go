package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// BreakerConfig tunes when a gateway circuit opens and how long it stays open.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker guards outbound status queries to each gateway. State lives
// in a Redis hash per gateway so every pipeline instance shares it.
//
// - Closed: queries flow, failures are counted.
// - Open: queries are rejected until the cooldown elapses.
// - Half-Open: a probe is let through. Success closes, failure re-opens.
type CircuitBreaker struct {
	redisClient redis.Cmdable
	logger      *slog.Logger
	cfg         BreakerConfig
	now         func() time.Time
}

// BreakerState is a snapshot of one gateway circuit.
type BreakerState struct {
	Gateway      domain.Gateway `json:"gateway"`
	State        string         `json:"state"`
	Failures     int            `json:"failures"`
	LastFailedAt string         `json:"last_failed_at,omitempty"`
}

// allowScript moves an open circuit to half-open once the cooldown has passed.
// Returns the state the caller should act on.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])

local state = redis.call('HGET', key, 'state')
if state ~= 'open' then
    return state or 'closed'
end

local last = tonumber(redis.call('HGET', key, 'last_failed_at') or '0')
if now - last >= cooldown then
    redis.call('HSET', key, 'state', 'half-open')
    return 'probe'
end
return 'open'
`)

// failureScript counts a failure and opens the circuit when the threshold is
// reached or a half-open probe failed. Returns {previous state, new state, failures}.
var failureScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])

local prev = redis.call('HGET', key, 'state') or 'closed'
local failures = redis.call('HINCRBY', key, 'failures', 1)
redis.call('HSET', key, 'last_failed_at', now)

local nstate = prev
if prev == 'half-open' or failures >= threshold then
    nstate = 'open'
end
redis.call('HSET', key, 'state', nstate)
return {prev, nstate, failures}
`)

func NewCircuitBreaker(redisClient redis.Cmdable, cfg BreakerConfig, logger *slog.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &CircuitBreaker{
		redisClient: redisClient,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

func breakerKey(gateway domain.Gateway) string {
	return "cb:gateway:" + string(gateway.Normalize())
}

// Allow reports whether a status query to gateway may proceed. Redis errors
// fail closed on the breaker, i.e. the query is allowed.
func (cb *CircuitBreaker) Allow(ctx context.Context, gateway domain.Gateway) (string, bool) {
	res, err := allowScript.Run(ctx, cb.redisClient, []string{breakerKey(gateway)},
		cb.now().UnixMilli(), cb.cfg.Cooldown.Milliseconds(),
	).Text()
	if err != nil {
		cb.logger.Error("circuit breaker check failed", "error", err, "gateway", gateway)
		return StateClosed, true
	}

	switch res {
	case "probe":
		cb.logger.Info("circuit breaker half-open", "gateway", gateway)
		return StateHalfOpen, true
	case StateOpen:
		return StateOpen, false
	default:
		return res, true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, gateway domain.Gateway) {
	key := breakerKey(gateway)

	prev, _ := cb.redisClient.HGet(ctx, key, "state").Result()
	if err := cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0).Err(); err != nil {
		cb.logger.Error("failed to reset circuit breaker", "error", err, "gateway", gateway)
		return
	}

	if prev == StateHalfOpen || prev == StateOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "gateway", gateway)
	}
}

// RecordFailure counts a failed query and opens the circuit when needed.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, gateway domain.Gateway) {
	res, err := failureScript.Run(ctx, cb.redisClient, []string{breakerKey(gateway)},
		cb.now().UnixMilli(), cb.cfg.FailureThreshold,
	).Slice()
	if err != nil || len(res) != 3 {
		cb.logger.Error("failed to record circuit breaker failure", "error", err, "gateway", gateway)
		return
	}

	prev, _ := res[0].(string)
	next, _ := res[1].(string)
	failures, _ := res[2].(int64)

	if next == StateOpen && prev != StateOpen {
		cb.logger.Warn("circuit breaker opened",
			"gateway", gateway,
			"previous_state", prev,
			"failures", failures,
			"threshold", cb.cfg.FailureThreshold,
		)
	}
}

// State returns the current circuit snapshot for gateway without changing it.
func (cb *CircuitBreaker) State(ctx context.Context, gateway domain.Gateway) BreakerState {
	out := BreakerState{Gateway: gateway, State: StateClosed}

	data, err := cb.redisClient.HGetAll(ctx, breakerKey(gateway)).Result()
	if err != nil || len(data) == 0 {
		return out
	}

	out.Failures, _ = strconv.Atoi(data["failures"])
	if s := data["state"]; s != "" {
		out.State = s
	}

	lastFailed, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
	if lastFailed > 0 {
		at := time.UnixMilli(lastFailed)
		out.LastFailedAt = at.UTC().Format(time.RFC3339)
		if out.State == StateOpen && cb.now().Sub(at) >= cb.cfg.Cooldown {
			out.State = StateHalfOpen
		}
	}
	return out
}
