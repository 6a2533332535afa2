package backplane

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// ClientOptions configures the Redis connection.
type ClientOptions struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// NewClient builds a go-redis client with conservative timeouts.
func NewClient(opts ClientOptions) *goredis.Client {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 16
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     poolSize,
		MinIdleConns: poolSize / 4,
		PoolTimeout:  time.Second,

		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      1,
		MinRetryBackoff: 25 * time.Millisecond,
		MaxRetryBackoff: 250 * time.Millisecond,
	})
}

// Ping checks that Redis answers.
func Ping(ctx context.Context, client *goredis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return oops.Code("BACKPLANE_UNREACHABLE").With("addr", client.Options().Addr).Wrap(err)
	}
	return nil
}
