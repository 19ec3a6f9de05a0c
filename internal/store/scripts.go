package store

// Every backend procedure runs as one Lua script so Redis serializes it
// against all other queue and session writes.

// KEYS: queue, entry, alias, creators set
// ARGV: creator_id, fan_id, now_ms, entry_id, alias_ttl_seconds
const enqueueScript = `
local state = redis.call('HGET', KEYS[2], 'state')
if state and state ~= 'REMOVED' then
	local rank = redis.call('ZRANK', KEYS[1], ARGV[2])
	if rank then
		return {0, rank + 1}
	end
end

redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2],
	'creator_id', ARGV[1],
	'fan_id', ARGV[2],
	'entry_id', ARGV[4],
	'entered_at', ARGV[3],
	'state', 'WAITING',
	'hold_until', 0)
redis.call('PERSIST', KEYS[2])
redis.call('SET', KEYS[3], ARGV[1], 'EX', ARGV[5])
redis.call('SADD', KEYS[4], ARGV[1])

return {1, redis.call('ZRANK', KEYS[1], ARGV[2]) + 1}
`

// KEYS: queue, entry, creators set
// ARGV: fan_id, reason, now_ms, creator_id, tombstone_ttl_seconds
const removeFromQueueScript = `
local rank = redis.call('ZRANK', KEYS[1], ARGV[1])
if not rank then
	return {0, 0}
end

redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'REMOVED', 'removed_reason', ARGV[2], 'removed_at', ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[5])
if redis.call('ZCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[3], ARGV[4])
end

local front = 0
if rank == 0 then
	front = 1
end
return {1, front}
`

// KEYS: queue, entry
// ARGV: fan_id
// Returns {code, position}: 1 moved, 0 already last, -1 missing, -2 in session.
const snoozeScript = `
local rank = redis.call('ZRANK', KEYS[1], ARGV[1])
if not rank then
	return {-1, 0}
end

local state = redis.call('HGET', KEYS[2], 'state')
if state == 'IN_SESSION' then
	return {-2, rank + 1}
end

redis.call('HSET', KEYS[2], 'state', 'WAITING', 'hold_until', 0)

local total = redis.call('ZCARD', KEYS[1])
if rank == total - 1 then
	return {0, total}
end

local last = redis.call('ZRANGE', KEYS[1], -1, -1, 'WITHSCORES')
redis.call('ZADD', KEYS[1], tonumber(last[2]) + 1, ARGV[1])
return {1, total}
`

// KEYS: entry
// ARGV: target_state, allowed_from_csv, hold_until_ms
// Returns {code, state}: 1 applied, 0 already in target, -1 not allowed, -2 missing.
const transitionScript = `
local state = redis.call('HGET', KEYS[1], 'state')
if not state or state == 'REMOVED' then
	return {-2, ''}
end
if state == ARGV[1] then
	return {0, state}
end

for allowed in string.gmatch(ARGV[2], '[^,]+') do
	if allowed == state then
		redis.call('HSET', KEYS[1], 'state', ARGV[1], 'hold_until', ARGV[3])
		return {1, ARGV[1]}
	end
end
return {-1, state}
`

// KEYS: creator session marker, session
// ARGV: session_id, creator_id, fan_id, now_ms
const createSessionScript = `
local existing = redis.call('GET', KEYS[1])
if existing then
	return {0, existing}
end

redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
	'id', ARGV[1],
	'creator_id', ARGV[2],
	'fan_id', ARGV[3],
	'status', 'PENDING',
	'created_at', ARGV[4],
	'started_at', 0,
	'ended_at', 0,
	'duration_seconds', 0)
return {1, ARGV[1]}
`

// KEYS: session
// ARGV: now_ms
// Returns 1 activated, 0 already active, -1 ended, -2 missing.
const activateSessionScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -2
end
if status == 'ACTIVE' then
	return 0
end
if status ~= 'PENDING' then
	return -1
end

redis.call('HSET', KEYS[1], 'status', 'ACTIVE', 'started_at', ARGV[1])
return 1
`

// KEYS: session, creator session marker
// ARGV: session_id, now_ms
// Returns {code, duration_seconds}: 1 ended, 0 already ended, -2 missing.
const endSessionScript = `
local fields = redis.call('HMGET', KEYS[1], 'status', 'started_at', 'duration_seconds')
if not fields[1] then
	return {-2, 0}
end
if fields[1] == 'ENDED' then
	return {0, tonumber(fields[3]) or 0}
end

local started = tonumber(fields[2]) or 0
local duration = 0
if started > 0 then
	duration = math.floor((tonumber(ARGV[2]) - started) / 1000)
end
if duration < 0 then
	duration = 0
end

redis.call('HSET', KEYS[1], 'status', 'ENDED', 'ended_at', ARGV[2], 'duration_seconds', duration)
if redis.call('GET', KEYS[2]) == ARGV[1] then
	redis.call('DEL', KEYS[2])
end
return {1, duration}
`

// KEYS: idempotency key, sender wallet, recipient wallet, transfer
// ARGV: transfer_id, sender_id, recipient_id, amount, session_id, idempotency_key, now_ms
// Returns {code, transfer_id}: 1 committed, 0 duplicate, -1 insufficient funds.
const transferFundsScript = `
local existing = redis.call('GET', KEYS[1])
if existing then
	return {0, existing}
end

local amount = tonumber(ARGV[4])
local balance = tonumber(redis.call('GET', KEYS[2]) or '0')
if balance < amount then
	return {-1, ''}
end

redis.call('DECRBY', KEYS[2], amount)
redis.call('INCRBY', KEYS[3], amount)
redis.call('HSET', KEYS[4],
	'id', ARGV[1],
	'sender_id', ARGV[2],
	'recipient_id', ARGV[3],
	'amount_skips', amount,
	'session_id', ARGV[5],
	'idempotency_key', ARGV[6],
	'created_at', ARGV[7])
redis.call('SET', KEYS[1], ARGV[1])
return {1, ARGV[1]}
`

// KEYS: rating
// ARGV: session_id, rater_id, rated_user_id, rating, comment, tags_json, now_ms
const submitRatingScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end

redis.call('HSET', KEYS[1],
	'session_id', ARGV[1],
	'rater_id', ARGV[2],
	'rated_user_id', ARGV[3],
	'rating', ARGV[4],
	'comment', ARGV[5],
	'tags', ARGV[6],
	'created_at', ARGV[7])
return 1
`

// KEYS: queue, creators set
// ARGV: creator_id, entry_key_prefix
const clearQueueScript = `
local fans = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, fan in ipairs(fans) do
	redis.call('DEL', ARGV[2] .. fan)
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return fans
`

// KEYS: sms route
// ARGV: code
const confirmSMSRouteScript = `
local code = redis.call('HGET', KEYS[1], 'code')
if not code then
	return -1
end
if code ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'verified', '1')
return 1
`
