// Command cron drives ticks for every active session on a fixed poll.
// It shares the engine with the HTTP entrypoint; the Redis tick lock
// makes the two triggers safe to run together, and a due check on the
// session's own cadence keeps polling from outpacing slow strategies.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-api/internal/cli"
	"arena-api/internal/config"
	"arena-api/internal/svc"
	"arena-api/pkg/risk"
)

const (
	pollInterval = 10 * time.Second
	tickTimeout  = 2 * time.Minute
)

var configFile = flag.String("f", "etc/arena.yaml", "the config file")

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("[cron] starting tick scheduler...")

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	sc := svc.NewServiceContext(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	runPass(ctx, sc)
	for {
		select {
		case <-ctx.Done():
			// Ticks run synchronously inside runPass, so reaching this
			// select means nothing is in flight.
			log.Println("[cron] shutdown signal received, stopped")
			return
		case <-ticker.C:
			runPass(ctx, sc)
		}
	}
}

// runPass fires one tick attempt for every due active session. Sessions
// are processed sequentially; a slow session delays the rest of the pass
// but never the next poll's due computation.
func runPass(ctx context.Context, sc *svc.ServiceContext) {
	if ctx.Err() != nil {
		return
	}

	ids, err := sc.Repos.SessionList.ListActiveIDs(ctx)
	if err != nil {
		log.Printf("[cron] list active sessions: %v", err)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if due, err := sessionDue(ctx, sc, id); err != nil {
			log.Printf("[cron] session %s due check: %v", id, err)
			continue
		} else if !due {
			continue
		}

		tickCtx, cancel := context.WithTimeout(ctx, tickTimeout)
		res, err := sc.Engine.RunTick(tickCtx, id)
		cancel()
		switch {
		case err != nil:
			log.Printf("[cron] session %s tick failed: %v", id, err)
		case res.Skipped:
			log.Printf("[cron] session %s skipped: %s", id, res.SkipReason)
		default:
			log.Printf("[cron] session %s tick %d done: exits=%d decisions=%d",
				id, res.TickCount, res.Exits, len(res.Decisions))
		}
	}
}

// sessionDue reports whether a session's cadence has elapsed since its
// last tick. The engine's lock still guards the minimum interval; this
// check only keeps the poll loop from hammering sessions with long
// cadences.
func sessionDue(ctx context.Context, sc *svc.ServiceContext, id string) (bool, error) {
	session, err := sc.Repos.Sessions.Get(ctx, id)
	if err != nil {
		return false, err
	}
	strategy, err := risk.ResolveStrategy(session.Strategy)
	if err != nil {
		// Broken config still ticks so the engine records the failure
		// and the operator sees it.
		return true, nil
	}
	if session.LastTickAt.IsZero() {
		return true, nil
	}
	cadence := time.Duration(strategy.CadenceSeconds) * time.Second
	return time.Since(session.LastTickAt) >= cadence, nil
}
