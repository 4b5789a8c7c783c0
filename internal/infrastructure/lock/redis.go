package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript borra la clave solo si sigue siendo nuestra (el TTL pudo vencer y otra instancia tomarla).
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript renueva el TTL con la misma condición de dueño.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker lock entre instancias: SET NX PX con token aleatorio.
// Mientras el lock está tomado se renueva cada ttl/3, así un ciclo largo no lo pierde.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisLocker conecta con REDIS_URL y verifica con PING.
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration, log zerolog.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("lock: REDIS_URL inválida: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "nfse:lock:", ttl: ttl, log: log}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: SET NX %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	rctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go l.keepAlive(rctx, full, token, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			<-done
			// el ctx del ciclo puede estar cancelado; liberar igual.
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(dctx, l.client, []string{full}, token).Err(); err != nil {
				l.log.Warn().Err(err).Str("lock", full).Msg("no se pudo liberar el lock; vencerá por TTL")
			}
		})
	}
	return release, true, nil
}

// keepAlive extiende el TTL hasta que se libere el lock o se descubra que ya no es nuestro.
func (l *RedisLocker) keepAlive(ctx context.Context, full, token string, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		interval = l.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := extendScript.Run(ctx, l.client, []string{full}, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// un fallo puntual no suelta el lock; el próximo tick reintenta antes de que venza.
			l.log.Warn().Err(err).Str("lock", full).Msg("no se pudo renovar el lock")
			continue
		}
		if n == 0 {
			l.log.Warn().Str("lock", full).Msg("lock perdido: la clave venció o la tomó otra instancia")
			return
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
