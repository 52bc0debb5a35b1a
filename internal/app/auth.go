package app

import (
	"api-gateway/internal/auth"
	"api-gateway/internal/common/logging"
)

func (app *App) initializeAuth() error {
	resolver, err := auth.NewResolver(auth.Config{
		Secret:         app.Config.JWTSecret,
		Algorithm:      app.Config.JWTAlgorithm,
		Audience:       app.Config.JWTAudience,
		Issuer:         app.Config.JWTIssuer,
		AllowAnonymous: app.Config.AllowAnonymous,
		Leeway:         app.Config.JWTLeeway,
	})
	if err != nil {
		return err
	}

	app.Resolver = resolver
	app.Logger.Info("Authentication configured",
		logging.String("algorithm", app.Config.JWTAlgorithm),
		logging.Bool("anonymous", app.Config.AllowAnonymous),
	)
	return nil
}
