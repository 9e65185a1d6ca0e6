package cache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

// Guard は Idempotency-Key ヘッダによる二重送信ガード。
// redis 未設定（client=nil）のときは素通し。
type Guard struct {
	client *redis.Client
}

func NewGuard(addr, password string, db int) *Guard {
	if addr == "" {
		return &Guard{}
	}
	return &Guard{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (g *Guard) Enabled() bool { return g.client != nil }

func (g *Guard) Ping(ctx context.Context) error {
	if g.client == nil {
		return nil
	}
	return g.client.Ping(ctx).Err()
}

// SetIdempotency: 初見のキーなら true。TTL内の再送は false。
func (g *Guard) SetIdempotency(ctx context.Context, key string) (bool, error) {
	if g.client == nil {
		return true, nil
	}
	return g.client.SetNX(ctx, "idem:"+key, 1, idempotencyTTL).Result()
}

// Middleware: POST系に載せる。キーはユーザーID+パス+ヘッダ値で分離する。
func (g *Guard) Middleware(userIDKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if g.client == nil || key == "" {
			c.Next()
			return
		}

		full := fmt.Sprintf("%d:%s:%s", c.GetInt64(userIDKey), c.FullPath(), key)
		ok, err := g.SetIdempotency(c.Request.Context(), full)
		if err != nil {
			// redis障害で本処理を止めない
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": gin.H{"code": "CONFLICT", "message": "duplicate request (idempotency key already used)"},
			})
			return
		}
		c.Next()
	}
}
