package rate

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// observed holds every client that already carries an errorObserver.
var observed sync.Map

// observe attaches an errorObserver to client unless one is already there.
// Limiters built repeatedly on one shared client log each failure once.
func observe(client redis.UniversalClient, log *zap.Logger) {
	if _, loaded := observed.LoadOrStore(client, struct{}{}); loaded {
		return
	}
	client.AddHook(errorObserver{log: log})
}

// errorObserver logs failed dials and commands on the shared client. It never
// alters results and never touches the client lifecycle.
type errorObserver struct {
	log *zap.Logger
}

func (o errorObserver) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			o.log.Warn("counter store dial failed", zap.String("addr", addr), zap.Error(err))
		}
		return conn, err
	}
}

func (o errorObserver) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) && !isScriptMiss(err) {
			o.log.Warn("counter store command failed", zap.String("cmd", cmd.Name()), zap.Error(err))
		}
		return err
	}
}

func (o errorObserver) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			o.log.Warn("counter store pipeline failed", zap.Int("cmds", len(cmds)), zap.Error(err))
		}
		return err
	}
}

// EVALSHA misses are retried with EVAL by redis.Script and are not failures.
func isScriptMiss(err error) bool {
	return redis.HasErrorPrefix(err, "NOSCRIPT")
}
