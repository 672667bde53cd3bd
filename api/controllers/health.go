package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/pkg/config"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

const readinessTimeout = 3 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RentLedger-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each backing dependency. A nil pinger is reported as
// skipped so partial deployments still answer.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RentLedger-Env", cfg.App.Env)

		checks := make(map[string]string, len(deps))
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "skipped"
				continue
			}
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			err := dep.Ping(ctx)
			cancel()
			if err != nil {
				healthy = false
				checks[name] = "down"
				logg.Warn(logg.WithField(r.Context(), "dependency", name), "readiness check failed")
				continue
			}
			checks[name] = "ok"
		}

		if !healthy {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "one or more dependencies unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

// ReadinessDeps builds the dependency map for HealthReady.
func ReadinessDeps(dbP, redisP, pubsubP, bqP pinger) map[string]pinger {
	return map[string]pinger{
		"postgres": dbP,
		"redis":    redisP,
		"pubsub":   pubsubP,
		"bigquery": bqP,
	}
}
