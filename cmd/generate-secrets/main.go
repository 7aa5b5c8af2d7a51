package main

import (
	"fmt"
	"log"

	"github.com/smarttransit/rideshare-core/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for SmartTransit Rideshare")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secrets.JWTSecret)
	fmt.Printf("ENCRYPTION_MASTER_SECRET=%s\n", secrets.EncryptionMasterSecret)
	fmt.Println()
	fmt.Println("IMPORTANT: rotating ENCRYPTION_MASTER_SECRET makes stored plates unreadable and")
	fmt.Println("invalidates every issued ticket. Keep it out of version control.")
	fmt.Println("===========================================")
}
