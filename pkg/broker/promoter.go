package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vyr-e/backstage/pkg/logger"
	"github.com/vyr-e/backstage/pkg/tasks"
)

const defaultPriorityName = tasks.PriorityDefault

// promoteScript moves due entries from the delayed sorted set onto
// their target stream atomically, so two promoters running the same
// tick concurrently never double-promote the same entry. Each record
// resolves its own target stream, preferring its carried streamKey and
// falling back to prefix:priority-or-default when that's absent. A
// member whose JSON fails to decode is skipped rather than lost.
var promoteScript = redis.NewScript(`
local delayed_key = KEYS[1]
local cutoff = tonumber(ARGV[1])
local prefix = ARGV[2]
local default_priority = ARGV[3]

local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', cutoff)
local promoted = 0

for _, member in ipairs(due) do
	local ok, record = pcall(cjson.decode, member)
	if ok and type(record) == 'table' and record.taskName then
		local target = record.streamKey
		if not target or target == '' then
			local priority = record.priority
			if not priority or priority == '' then
				priority = default_priority
			end
			target = prefix .. ':' .. priority
		end

		local payload = record.payload
		if not payload or payload == '' then
			payload = 'null'
		end

		local fields = {'taskName', record.taskName, 'payload', payload, 'enqueuedAt', tostring(record.enqueuedAt)}
		if record.attempts and record.attempts ~= '' and tonumber(record.attempts) and tonumber(record.attempts) > 0 then
			table.insert(fields, 'attempts')
			table.insert(fields, tostring(record.attempts))
		end
		if record.backoff and record.backoff ~= '' then
			table.insert(fields, 'backoff')
			table.insert(fields, record.backoff)
		end
		if record.timeout and record.timeout ~= '' and tonumber(record.timeout) and tonumber(record.timeout) > 0 then
			table.insert(fields, 'timeout')
			table.insert(fields, tostring(record.timeout))
		end

		redis.call('XADD', target, '*', unpack(fields))
		redis.call('ZREM', delayed_key, member)
		promoted = promoted + 1
	end
	-- malformed members are defensively left in place, not removed.
end

return promoted
`)

// Promoter runs the delayed-task promotion script on a fixed cadence.
type Promoter struct {
	store    *Store
	prefix   string
	interval time.Duration
	metrics  *Metrics
}

// NewPromoter builds a Promoter ticking every DefaultPromoterInterval
// unless overridden with WithInterval.
func NewPromoter(store *Store, prefix string) *Promoter {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Promoter{store: store, prefix: prefix, interval: DefaultPromoterInterval}
}

// WithInterval overrides the promotion tick cadence.
func (p *Promoter) WithInterval(d time.Duration) *Promoter {
	if d > 0 {
		p.interval = d
	}
	return p
}

// WithMetrics attaches Metrics and returns the Promoter for chaining.
func (p *Promoter) WithMetrics(m *Metrics) *Promoter {
	p.metrics = m
	return p
}

// Run blocks, promoting due entries every tick, until ctx is done.
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				logger.Log.Error().Err(err).Msg("promoter tick failed")
			}
		}
	}
}

// Tick runs one promotion pass immediately, returning the number of
// entries promoted. Exported so callers such as tests can run a pass
// on demand instead of waiting for Run's ticker.
func (p *Promoter) Tick(ctx context.Context) (int64, error) {
	return p.tick(ctx)
}

func (p *Promoter) tick(ctx context.Context) (int64, error) {
	cutoff := nowMillis()
	keys := []string{p.store.keys.scheduled()}
	args := []interface{}{cutoff, p.prefix, string(defaultPriorityName)}

	result, err := promoteScript.Run(ctx, p.store.rdb, keys, args...).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		// Script cache miss: reload and retry once, then surface.
		if loadErr := promoteScript.Load(ctx, p.store.rdb).Err(); loadErr != nil {
			return 0, wrapTransport("promote script load", loadErr)
		}
		result, err = promoteScript.Run(ctx, p.store.rdb, keys, args...).Result()
	}
	if err != nil {
		return 0, wrapTransport("promote", err)
	}

	promoted, _ := result.(int64)
	if promoted > 0 && p.metrics != nil {
		p.metrics.Promoted.Add(float64(promoted))
	}
	return promoted, nil
}
