package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const signInURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithCustomToken?key=%s"

type SignInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// gentoken prints a Firebase ID token for uid, for calling the API by hand.
func main() {
	ctx := context.Background()
	uidPtr := flag.String("uid", "", "User UID for token generation")
	rolePtr := flag.String("role", "", "role claim to embed: realtor or contractor")
	apiKeyPtr := flag.String("apikey", "", "Firebase API key for Identity Toolkit REST API")
	keyPtr := flag.String("key", "./service_account_key.json", "service account key file")
	flag.Parse()

	if *uidPtr == "" {
		log.Fatalf("Please provide a user UID using the -uid flag")
	}
	switch *rolePtr {
	case "", "realtor", "contractor":
	default:
		log.Fatalf("unknown role %q", *rolePtr)
	}

	absPath, err := filepath.Abs(*keyPtr)
	if err != nil {
		log.Fatalf("failed to get absolute path: %v", err)
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(absPath))
	if err != nil {
		log.Fatalf("error initializing app: %v", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("error getting Auth client: %v", err)
	}

	var claims map[string]interface{}
	if *rolePtr != "" {
		claims = map[string]interface{}{"role": *rolePtr}
	}
	customToken, err := client.CustomTokenWithClaims(ctx, *uidPtr, claims)
	if err != nil {
		log.Fatalf("error creating custom token: %v", err)
	}

	payloadBytes, err := json.Marshal(map[string]any{
		"token":             customToken,
		"returnSecureToken": true,
	})
	if err != nil {
		log.Fatalf("error marshaling payload: %v", err)
	}
	resp, err := http.Post(fmt.Sprintf(signInURL, *apiKeyPtr), "application/json", bytes.NewBuffer(payloadBytes))
	if err != nil {
		log.Fatalf("error making POST request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("non-OK HTTP status: %d, response: %s", resp.StatusCode, string(body))
	}

	var signInResp SignInResponse
	if err := json.Unmarshal(body, &signInResp); err != nil {
		log.Fatalf("error unmarshalling response: %v", err)
	}
	fmt.Println(signInResp.IDToken)
}
