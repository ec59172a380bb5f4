package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/sse"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/mutation"
	"github.com/MrSnakeDoc/marks/internal/scheduler"
	"github.com/MrSnakeDoc/marks/internal/session"
	"github.com/MrSnakeDoc/marks/internal/syncer"
)

// Exchanger completes the OAuth redirect.
type Exchanger interface {
	Exchange(ctx context.Context, state, code string) (*domain.Identity, error)
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedHosts []string // Host headers allowed to access the server
	AllowedCIDRS []string // client addresses allowed to access the server
	TrustProxy   bool     // true if running behind a trusted reverse proxy

	Session    *session.Manager
	Syncer     *syncer.Syncer
	Controller *mutation.Controller
	Exchanger  Exchanger
	Storage    backend.Storage     // pinged by /readyz
	Resyncer   *scheduler.Resyncer // manual refresh trigger
	Hub        *sse.Hub            // re-render signals for /events
}
