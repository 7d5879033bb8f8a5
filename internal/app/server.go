package app

import (
	"github.com/gorilla/mux"

	"integration-gateway/internal/handlers"
	"integration-gateway/internal/server"
)

// RunServer starts the HTTP server with all handlers configured and kicks off
// the proactive token sweep.
func (app *App) RunServer() (*server.Server, error) {
	h := handlers.New(
		app.Config,
		app.Storage,
		app.Creds,
		app.OAuth,
		app.Gateway,
		app.Aggregator,
		app.Logger,
	)

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Auth.Middleware)

	if err := app.Sweeper.Start(); err != nil {
		return nil, err
	}

	return server.New(router, app.Config.Port, "", ""), nil
}
