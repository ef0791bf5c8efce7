package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sneaky-linq/internal/domain"
)

// Todos los scripts usan el mismo orden de KEYS:
// [1] device:<id>  [2] device:<id>:groups  [3] device:alias  [4] alias:device
// y ARGV[1] es siempre el id de la sesion.
const (
	redisDevicePrefix   = "device:"
	redisDeviceAliasKey = "device:alias"
	redisAliasDeviceKey = "alias:device"
)

const redisReleaseAliasLua = `
local alias = redis.call("HGET", KEYS[3], ARGV[1])
if alias then
  if redis.call("HGET", KEYS[4], alias) == ARGV[1] then
    redis.call("HDEL", KEYS[4], alias)
  end
end
redis.call("HDEL", KEYS[3], ARGV[1])
`

const redisDeviceDataLua = `
local data = redis.call("HGETALL", KEYS[1])
local alias = redis.call("HGET", KEYS[3], ARGV[1])
local groups = redis.call("SMEMBERS", KEYS[2])
return {data, alias, groups}
`

// Si el registro vencio, la reconexion es una sesion nueva: el alias anterior se libera.
const redisCreateOrRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
` + redisReleaseAliasLua + `
  redis.call("DEL", KEYS[2])
end
redis.call("HSETNX", KEYS[1], "created_at", ARGV[3])
redis.call("HSET", KEYS[1], "did", ARGV[1], "channel", ARGV[2], "ttl", ARGV[4])
redis.call("EXPIREAT", KEYS[1], ARGV[4])
redis.call("EXPIREAT", KEYS[2], ARGV[4])
` + redisDeviceDataLua

const redisGetScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
` + redisReleaseAliasLua + `
  redis.call("DEL", KEYS[2])
  return false
end
` + redisDeviceDataLua

const redisJoinGroupScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[2])
redis.call("EXPIREAT", KEYS[2], redis.call("HGET", KEYS[1], "ttl"))
return 1
`

const redisTouchScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "ttl", ARGV[2])
redis.call("EXPIREAT", KEYS[1], ARGV[2])
redis.call("EXPIREAT", KEYS[2], ARGV[2])
return 1
`

const redisDeleteScript = `
if redis.call("EXISTS", KEYS[1]) == 1 and ARGV[2] ~= "" and redis.call("HGET", KEYS[1], "channel") ~= ARGV[2] then
  return 0
end
local existed = redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
` + redisReleaseAliasLua + `
return existed
`

const redisReleaseScript = redisReleaseAliasLua + `
return 1
`

// ARGV: [2] alias, [3] modo, [4] nuevo vencimiento, [5] prefijo de las claves de dispositivo.
const redisClaimScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
` + redisReleaseAliasLua + `
  return 4
end
local current = redis.call("HGET", KEYS[3], ARGV[1])
if current == ARGV[2] then
  return 1
end
local owner = redis.call("HGET", KEYS[4], ARGV[2])
if owner and owner ~= ARGV[1] then
  if redis.call("EXISTS", ARGV[5] .. owner) == 1 then
    return 2
  end
  redis.call("HDEL", KEYS[3], owner)
end
if ARGV[3] == "1" and current then
  return 3
end
if current then
  redis.call("HDEL", KEYS[4], current)
end
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[4], ARGV[2], ARGV[1])
redis.call("HSET", KEYS[1], "ttl", ARGV[4])
redis.call("EXPIREAT", KEYS[1], ARGV[4])
redis.call("EXPIREAT", KEYS[2], ARGV[4])
return 0
`

// KEYS: [1] alias:device [2] device:alias. ARGV: [1] alias [2] prefijo.
const redisSessionOfScript = `
local owner = redis.call("HGET", KEYS[1], ARGV[1])
if not owner then
  return false
end
if redis.call("EXISTS", ARGV[2] .. owner) == 1 then
  return owner
end
redis.call("HDEL", KEYS[1], ARGV[1])
if redis.call("HGET", KEYS[2], owner) == ARGV[1] then
  redis.call("HDEL", KEYS[2], owner)
end
return false
`

type redisScriptClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisRegistry implementa Registry sobre Redis. Cada operacion que toca mas
// de una clave corre como un unico script, lo que la vuelve atomica.
type RedisRegistry struct {
	client redisScriptClient
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisRegistry{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) CreateOrRefresh(ctx context.Context, id, address string) (domain.Session, error) {
	now := r.now()
	raw, err := r.client.Eval(ctx, redisCreateOrRefreshScript, deviceKeys(id),
		id, address, now.Unix(), now.Add(r.ttl).Unix()).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return parseDeviceData(id, raw)
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (domain.Session, error) {
	raw, err := r.client.Eval(ctx, redisGetScript, deviceKeys(id), id).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	session, err := parseDeviceData(id, raw)
	if err != nil {
		return domain.Session{}, err
	}
	// EXPIREAT trabaja en segundos; el registro puede seguir visible hasta un segundo de mas.
	if session.Expired(r.now()) {
		if _, err := r.DeleteIfAddress(ctx, id, session.Channel); err != nil {
			return domain.Session{}, err
		}
		return domain.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (r *RedisRegistry) JoinGroup(ctx context.Context, id, group string) error {
	n, err := r.client.Eval(ctx, redisJoinGroupScript, deviceKeys(id), id, group).Int()
	if err != nil {
		return fmt.Errorf("join group: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisRegistry) TouchTTL(ctx context.Context, id string) error {
	n, err := r.client.Eval(ctx, redisTouchScript, deviceKeys(id), id, r.now().Add(r.ttl).Unix()).Int()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	if err := r.client.Eval(ctx, redisDeleteScript, deviceKeys(id), id, "").Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) DeleteIfAddress(ctx context.Context, id, address string) (bool, error) {
	n, err := r.client.Eval(ctx, redisDeleteScript, deviceKeys(id), id, address).Int()
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Claim(ctx context.Context, id, alias string, mode ClaimMode) (ClaimOutcome, error) {
	modeArg := "0"
	if mode == ClaimIfUnaliased {
		modeArg = "1"
	}
	code, err := r.client.Eval(ctx, redisClaimScript, deviceKeys(id),
		id, alias, modeArg, r.now().Add(r.ttl).Unix(), redisDevicePrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("claim alias: %w", err)
	}
	outcome := ClaimOutcome(code)
	if outcome < ClaimAccepted || outcome > ClaimSessionMissing {
		return 0, fmt.Errorf("claim alias: unexpected script result %d", code)
	}
	return outcome, nil
}

func (r *RedisRegistry) Release(ctx context.Context, id string) error {
	if err := r.client.Eval(ctx, redisReleaseScript, deviceKeys(id), id).Err(); err != nil {
		return fmt.Errorf("release alias: %w", err)
	}
	return nil
}

func (r *RedisRegistry) AliasOf(ctx context.Context, id string) (string, error) {
	session, err := r.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return session.Alias, nil
}

func (r *RedisRegistry) SessionOf(ctx context.Context, alias string) (string, error) {
	owner, err := r.client.Eval(ctx, redisSessionOfScript,
		[]string{redisAliasDeviceKey, redisDeviceAliasKey}, alias, redisDevicePrefix).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve alias: %w", err)
	}
	return owner, nil
}

func deviceKeys(id string) []string {
	device := redisDevicePrefix + id
	return []string{device, device + ":groups", redisDeviceAliasKey, redisAliasDeviceKey}
}

// parseDeviceData convierte la respuesta {HGETALL, alias, SMEMBERS} en una sesion.
func parseDeviceData(id string, raw interface{}) (domain.Session, error) {
	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 3 {
		return domain.Session{}, fmt.Errorf("device data: unexpected reply %T", raw)
	}
	fields, ok := parts[0].([]interface{})
	if !ok || len(fields)%2 != 0 {
		return domain.Session{}, fmt.Errorf("device data: unexpected hash reply %T", parts[0])
	}
	if len(fields) == 0 {
		return domain.Session{}, ErrSessionNotFound
	}
	session := domain.Session{ID: id}
	for i := 0; i < len(fields); i += 2 {
		key, _ := fields[i].(string)
		value, _ := fields[i+1].(string)
		switch key {
		case "did":
			session.ID = value
		case "channel":
			session.Channel = value
		case "ttl":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return domain.Session{}, fmt.Errorf("device data: ttl: %w", err)
			}
			session.ExpiresAt = time.Unix(ts, 0).UTC()
		case "created_at":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return domain.Session{}, fmt.Errorf("device data: created_at: %w", err)
			}
			session.CreatedAt = time.Unix(ts, 0).UTC()
		}
	}
	if alias, ok := parts[1].(string); ok {
		session.Alias = alias
	}
	session.Groups = []string{}
	if groups, ok := parts[2].([]interface{}); ok {
		for _, g := range groups {
			if name, ok := g.(string); ok {
				session.Groups = append(session.Groups, name)
			}
		}
		sort.Strings(session.Groups)
	}
	return session, nil
}
