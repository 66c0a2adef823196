package middleware

import (
	"context"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/graph"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// Actor is the identity stamped on every write the user triggers.
func (u *AppUser) Actor() common.Actor {
	return common.Actor{ID: u.UserID}
}

type App struct {
	Graph   *graph.GraphClient
	Repairs graph.RepairQueue
	// ReportLink presigns the archived report of a run. Nil when no
	// bucket is configured.
	ReportLink func(ctx context.Context, runID string) (string, error)

	Keyfunc        jwt.Keyfunc
	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
