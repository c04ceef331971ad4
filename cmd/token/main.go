// Command token prints a bearer token for a user, for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"threadboard/internal/auth"
	"threadboard/internal/config"
	"threadboard/internal/database"
	"threadboard/internal/models"
	"threadboard/internal/repository"
)

func main() {
	userID := flag.Uint("user", 0, "User ID to issue the token for")
	username := flag.String("username", "", "Look the user up by name, creating it when missing")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to mint tokens in production")
	}

	id := *userID
	if *username != "" {
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		users := repository.NewUserRepository(db)
		ctx := context.Background()

		user, err := users.GetByUsername(ctx, *username)
		if err != nil {
			user = &models.User{Username: *username, Email: *username + "@example.com"}
			if err := users.Create(ctx, user); err != nil {
				log.Fatalf("Failed to create user %q: %v", *username, err)
			}
			log.Printf("Created user %q with ID %d", user.Username, user.ID)
		}
		id = user.ID
	}
	if id == 0 {
		log.Fatal("Pass -user <id> or -username <name>")
	}

	token, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience).Issue(id, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
