package main

import (
	"log"
	"os"

	"studypal-backend/apitoken"
	"studypal-backend/appstore"
	"studypal-backend/config"
	"studypal-backend/conn"
	"studypal-backend/login"
	"studypal-backend/migrations"
	"studypal-backend/proxy"
	"studypal-backend/quota"
	"studypal-backend/subscriptions"
	"studypal-backend/usage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] no .env file loaded: %v", err)
	}

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[main] database connection failed: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[main] migrations failed: %v", err)
	}

	subsRepo := subscriptions.NewRepository(db)
	usageRepo := usage.NewRepository(db)
	validator := quota.NewValidator(quota.NewCounterFromEnv(), subsRepo)

	stripeSvc := subscriptions.NewStripeFromConfig(subsRepo)
	billing := subscriptions.NewHandler(stripeSvc)
	store := appstore.NewHandler(subsRepo)
	proxyHandler := proxy.NewHandler(validator, usageRepo)
	tokens := apitoken.NewHandler(apitoken.NewService(config.SigningSecret()))

	r := gin.Default()

	r.POST("/login", login.Handler)
	r.POST("/register", login.RegisterHandler)
	r.GET("/session", login.SessionHandler)
	r.POST("/logout", login.LogoutHandler)

	// Webhooks authenticate themselves (signature or delivery contract).
	billing.RegisterWebhook(r)
	store.RegisterRoutes(r)

	authed := r.Group("/api", login.RequireAuth())
	proxyHandler.RegisterRoutes(authed)
	tokens.RegisterRoutes(authed)
	billing.RegisterRoutes(authed)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	log.Printf("[main] listening on %s (env=%s)", addr, config.Environment())
	if err := r.Run(addr); err != nil {
		log.Fatalf("[main] server exited: %v", err)
	}
}
