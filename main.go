package main

import (
	"log"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"outfit_vault/authorization"
	"outfit_vault/backup"
	"outfit_vault/catalog"
	"outfit_vault/events"
	"outfit_vault/media"
	"outfit_vault/settings"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.New(corsConfigFromEnv()))

	authModule, err := authorization.RegisterRoutes(r)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}
	guard := authModule.Guard()

	mediaModule := media.RegisterRoutes(r)
	eventsModule := events.RegisterRoutes(r, guard)

	catalogModule, err := catalog.RegisterRoutes(r, guard, mediaModule.Cache(), eventsModule.Hub())
	if err != nil {
		log.Fatalf("register catalog routes: %v", err)
	}

	if _, err := backup.RegisterRoutes(r, guard, catalogModule, eventsModule.Hub()); err != nil {
		log.Fatalf("register backup routes: %v", err)
	}

	if _, err := settings.RegisterRoutes(r, guard, eventsModule.Hub()); err != nil {
		log.Fatalf("register settings routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}

// corsConfigFromEnv allows the origins listed in CORS_ALLOWED_ORIGINS, or any
// origin when none are set. Credentials ride along only with an explicit list.
func corsConfigFromEnv() cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")

	raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if raw == "" {
		config.AllowAllOrigins = true
		return config
	}

	origins := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		return config
	}

	config.AllowOrigins = origins
	config.AllowCredentials = true
	return config
}
