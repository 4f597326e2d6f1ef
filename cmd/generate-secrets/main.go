package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tourlink/booking-backend/internal/utils"
	"github.com/tourlink/booking-backend/pkg/jwt"
)

// Prints a fresh JWT_SECRET. With -dev-token it also issues an access token
// signed with that secret, for local testing against the API.
func main() {
	devToken := flag.Bool("dev-token", false, "also print a signed access token")
	role := flag.String("role", jwt.RoleCustomer, "role for the dev token: customer, agent or admin")
	b2b := flag.String("b2b-account", "", "B2B account id for agent tokens")
	expiry := flag.Duration("expiry", 24*time.Hour, "dev token lifetime")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("JWT Secret Generator for TourLink")
	fmt.Println("===========================================")
	fmt.Println()

	secret, err := utils.GenerateSecret(64)
	if err != nil {
		log.Fatalf("Failed to generate secret: %v", err)
	}

	fmt.Println("✅ Secret generated successfully!")
	fmt.Println()
	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secret)
	fmt.Println()

	if *devToken {
		var accountID *uuid.UUID
		if *b2b != "" {
			id, err := uuid.Parse(*b2b)
			if err != nil {
				log.Fatalf("Invalid b2b account id: %v", err)
			}
			accountID = &id
		}

		userID := uuid.New()
		token, err := jwt.NewService(secret, *expiry).GenerateAccessToken(userID, "dev@tourlink.local", *role, accountID)
		if err != nil {
			log.Fatalf("Failed to issue dev token: %v", err)
		}
		fmt.Printf("Dev user:  %s (%s)\n", userID, *role)
		fmt.Printf("Dev token: %s\n", token)
		fmt.Println()
	}

	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
