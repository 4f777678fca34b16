package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/EmoBanana/veiled/pkg/crypto"
	"github.com/EmoBanana/veiled/pkg/order"
)

// sign-order builds and signs a veiled order payload. The printed JSON is
// what gets encrypted client-side and submitted as CREATE_ORDER.
func main() {
	var (
		keyHex    = flag.String("key", "", "hex private key; generates a fresh one when empty")
		direction = flag.String("direction", "buy", "buy or sell")
		target    = flag.Float64("target", 2950, "trigger price")
		amount    = flag.Float64("amount", 1, "exact amount to swap")
	)
	flag.Parse()

	dir, err := order.ParseSide(*direction)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Step 1: Generate or load key
	var signer *crypto.Signer
	if *keyHex == "" {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Address: %s\n\n", signer.Address().Hex())

	// Step 2: Build the payload
	payload := &order.OrderPayload{
		TargetPrice: *target,
		Amount:      *amount,
		Direction:   dir,
		Owner:       signer.Address(),
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Direction: %s\n", payload.Direction.String())
	fmt.Printf("  Target Price: %v\n", payload.TargetPrice)
	fmt.Printf("  Amount: %v\n", payload.Amount)
	fmt.Printf("  Owner: %s\n\n", payload.Owner.Hex())

	// Step 3: Sign the canonical digest
	if err := order.SignPayload(signer, payload); err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", payload.Signature)

	// Step 4: Serialize to JSON
	payloadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Order Payload (JSON, encrypt before submitting):")
	fmt.Println(string(payloadJSON))
	fmt.Println()

	// Step 5: Verify round-trip
	fmt.Println("Verifying signature...")
	if !order.VerifyPayloadSignature(payload) {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Println()

	fmt.Println("To submit: encrypt this payload for the decryption service,")
	fmt.Println("then send over the agent WebSocket:")
	fmt.Println(`  {"type":"CREATE_ORDER","encryptedPayload":"<base64 ciphertext>"}`)
}
