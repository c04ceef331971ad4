// Command seed fills the database with demo comments.
package main

import (
	"flag"
	"log"

	"threadboard/internal/config"
	"threadboard/internal/database"
	"threadboard/internal/seed"
)

func main() {
	opts := seed.DefaultOptions
	flag.IntVar(&opts.Users, "users", opts.Users, "Number of users to create")
	flag.IntVar(&opts.Comments, "comments", opts.Comments, "Number of comments to create")
	flag.Float64Var(&opts.ReplyRatio, "replies", opts.ReplyRatio, "Share of comments posted as replies (0-1)")
	flag.IntVar(&opts.VotesPerUser, "votes", opts.VotesPerUser, "Maximum votes cast per user")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed (0 = time based)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d comments, clean=%v\n", opts.Users, opts.Comments, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db, opts)
	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	if _, err := s.Run(); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Issue a token for a seeded user with: go run ./cmd/token -user <id>")
}
