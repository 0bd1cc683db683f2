package main

import (
	"fmt"
	"log"

	"github.com/tembera/booking-backend/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for Tembera")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secrets.JWTSecret)
	fmt.Printf("FLUTTERWAVE_WEBHOOK_HASH=%s\n", secrets.FlutterwaveWebhookHash)
	fmt.Println()
	fmt.Println("Paste FLUTTERWAVE_WEBHOOK_HASH into Settings > Webhooks > Secret hash on the Flutterwave dashboard.")
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
