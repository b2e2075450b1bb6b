package queue

import "github.com/redis/go-redis/v9"

// KEYS: schedules hash, repeat zset. ARGV: dedup key, schedule json, first run millis.
var registerScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
  return 1
end
return 0
`)

// KEYS: job hash, ready list, delayed zset. ARGV: job id.
var removeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'active' then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: delayed zset, ready list. ARGV: job id.
var moveScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// Materializes one instance per tick. A concurrent promoter that lost the race
// sees the score already advanced past now and does nothing.
// KEYS: repeat zset, schedules hash, instance job hash, ready list.
// ARGV: dedup key, now millis, next millis, instance id, kind, user id, max attempts, timestamp.
var tickScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not cur or tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  redis.call('ZREM', KEYS[1], ARGV[1])
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
if redis.call('EXISTS', KEYS[3]) == 1 then
  return 0
end
redis.call('HSET', KEYS[3],
  'id', ARGV[4], 'kind', ARGV[5], 'user_id', ARGV[6], 'state', 'waiting',
  'attempts', 0, 'max_attempts', ARGV[7], 'schedule_key', ARGV[1],
  'created_at', ARGV[8], 'updated_at', ARGV[8])
redis.call('RPUSH', KEYS[4], ARGV[4])
return 1
`)

// KEYS: ready list, inflight zset. ARGV: lease deadline millis, timestamp, job hash prefix.
var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if not job then
  return nil
end
redis.call('ZADD', KEYS[2], ARGV[1], job)
local jobKey = ARGV[3] .. job
if redis.call('EXISTS', jobKey) == 1 then
  redis.call('HSET', jobKey, 'state', 'active', 'updated_at', ARGV[2])
end
return job
`)

// KEYS: inflight zset, ready list, job hash. ARGV: job id, now millis.
var reclaimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[3], 'state', 'waiting')
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)
