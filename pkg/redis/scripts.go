package redis

import "github.com/redis/go-redis/v9"

// Every entry is a hash with two fields: "v" holds the value and "c" the CAS
// version. Script replies start with a status code.
const (
	replyNotFound int64 = 0
	replyOK       int64 = 1
	replyExists   int64 = 2
	replyConflict int64 = 3
)

// applyTTL is shared by the write scripts. ARGV[ttlIdx] is milliseconds, 0 disables expiry.
const applyTTL = `
local function apply_ttl(key, ms)
	if tonumber(ms) > 0 then
		redis.call('PEXPIRE', key, ms)
	else
		redis.call('PERSIST', key)
	end
end
`

// KEYS[1] key
var getScript = redis.NewScript(`
local r = redis.call('HMGET', KEYS[1], 'v', 'c')
if not r[2] then
	return {0}
end
return {1, r[2], r[1]}
`)

// KEYS[1] key, ARGV[1] ttl
var getAndRefreshScript = redis.NewScript(applyTTL + `
local r = redis.call('HMGET', KEYS[1], 'v', 'c')
if not r[2] then
	return {0}
end
apply_ttl(KEYS[1], ARGV[1])
return {1, r[2], r[1]}
`)

// KEYS[1] key, ARGV[1] value, ARGV[2] ttl, ARGV[3] seed version
var insertScript = redis.NewScript(applyTTL + `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {2}
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'c', ARGV[3])
apply_ttl(KEYS[1], ARGV[2])
return {1, ARGV[3]}
`)

// KEYS[1] key, ARGV[1] value, ARGV[2] ttl, ARGV[3] expected version
var replaceScript = redis.NewScript(applyTTL + `
local cur = redis.call('HGET', KEYS[1], 'c')
if not cur then
	return {0}
end
if cur ~= ARGV[3] then
	return {3}
end
redis.call('HSET', KEYS[1], 'v', ARGV[1])
local ver = redis.call('HINCRBY', KEYS[1], 'c', 1)
apply_ttl(KEYS[1], ARGV[2])
return {1, ver}
`)

// KEYS[1] key, ARGV[1] value, ARGV[2] ttl, ARGV[3] seed version
var upsertScript = redis.NewScript(applyTTL + `
local ver
if redis.call('HEXISTS', KEYS[1], 'c') == 1 then
	redis.call('HSET', KEYS[1], 'v', ARGV[1])
	ver = redis.call('HINCRBY', KEYS[1], 'c', 1)
else
	redis.call('HSET', KEYS[1], 'v', ARGV[1], 'c', ARGV[3])
	ver = ARGV[3]
end
apply_ttl(KEYS[1], ARGV[2])
return {1, ver}
`)

// KEYS[1] key, ARGV[1] ttl
var refreshScript = redis.NewScript(applyTTL + `
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {0}
end
apply_ttl(KEYS[1], ARGV[1])
return {1}
`)
