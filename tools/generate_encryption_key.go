package main

import (
	"fmt"
	"os"

	"github.com/aj9599/submeter-billing/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Add this to your .env file:")
	fmt.Println()
	fmt.Printf("PAYMENT_ENCRYPTION_KEY=%s\n", key)
	fmt.Println()
	fmt.Println("Keep the key out of version control. Admin UPI ids sealed with it")
	fmt.Println("cannot be read back if the key is lost; admins would have to re-enter them.")
}
