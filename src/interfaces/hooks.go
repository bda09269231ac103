package interfaces

import (
	"context"
	"net/http"

	"market-platform/src/models"

	"github.com/go-gota/gota/dataframe"
)

// -----------------------------------------------------------------------------
// IChartingHook renders the dataframe form of a result.
// -----------------------------------------------------------------------------

type IChartingHook interface {

	// IsChartable reports whether the command path can be charted.
	IsChartable(path string) bool

	// Chart renders df. params carries caller-supplied chart options.
	Chart(ctx context.Context, path string, df dataframe.DataFrame, params map[string]any) (*models.MChart, error)
}

// -----------------------------------------------------------------------------
// IAuthHook resolves the authenticated user settings of an HTTP request.
// -----------------------------------------------------------------------------

type IAuthHook interface {

	// UserSettings returns the settings bound to the request, or an
	// UnauthorizedError when the request carries no valid identity.
	UserSettings(ctx context.Context, req *http.Request) (*models.MUserSettings, error)
}

// -----------------------------------------------------------------------------
// ILoggingHook receives one event per command invocation.
// -----------------------------------------------------------------------------

type ILoggingHook interface {
	LogCommand(event models.MCommandEvent)
}
