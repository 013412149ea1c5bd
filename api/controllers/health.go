package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/comercio-backoffice/api/responses"
	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
)

const (
	envHeader        = "X-Backoffice-Env"
	readinessTimeout = 2 * time.Second
)

// Pinger is any dependency the readiness probe can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports the ones that failed.
// Nil checks are skipped.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name, check := range checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		failed := map[string]string{}
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			err := checks[name].Ping(ctx)
			cancel()
			if err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(map[string]any{"failed": failed}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": names})
	}
}
