package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mathraid/internal/client"
	"mathraid/internal/identity"
	"mathraid/internal/localstate"
	"mathraid/internal/logger"
	"mathraid/internal/wire"
)

func main() {
	// Load .env - try a few locations so running from the repo root or
	// the package dir both work.
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			break
		}
	}

	backendURL := flag.String("backend", getEnv("MATHRAID_BACKEND_URL", "ws://localhost:7777/ws"), "Backend websocket URL")
	gatewayURL := flag.String("gateway", getEnv("MATHRAID_GATEWAY_URL", "http://localhost:7778"), "Identity gateway base URL")
	statePath := flag.String("state", getEnv("MATHRAID_STATE_PATH", "mathraid.db"), "Local state database path")
	name := flag.String("name", getEnv("MATHRAID_NAME", "Cadet"), "Display name for a new player")
	grade := flag.Int("grade", 3, "Grade level for a new player")
	logMode := flag.String("log", getEnv("MATHRAID_LOG", "dev"), "Log mode: dev or prod")
	flag.Parse()

	l, err := logger.New(*logMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer l.Sync()

	local, err := localstate.Open(*statePath)
	if err != nil {
		log.Fatalf("failed to open local state: %v", err)
	}
	defer local.Close()

	deviceID, err := local.DeviceID()
	if err != nil {
		log.Fatalf("failed to load device id: %v", err)
	}

	verifier := identity.NewVerifier(identity.WithBaseURL(*gatewayURL))

	core := client.New(client.Config{
		Dial: func(ctx context.Context, transportIdentity string) (client.Transport, error) {
			return wire.Dial(ctx, *backendURL, transportIdentity)
		},
		Verifier: verifier,
		Credentials: func(ctx context.Context) (string, error) {
			// Empty credential means local/developer mode; the gateway
			// mints an identity from the device id alone.
			return os.Getenv("MATHRAID_CREDENTIAL"), nil
		},
		DeviceID: deviceID,
		Name:     *name,
		Grade:    *grade,
		Log:      l,
	})
	defer core.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	core.Connect()

	phases := core.Phases(ctx)
	for {
		select {
		case phase, ok := <-phases:
			if !ok {
				return
			}
			fmt.Printf("Phase: %s\n", phase)
			if msg, ok := core.UserError(); ok {
				fmt.Printf("Error: %s\n", msg)
			}
		case <-ctx.Done():
			return
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
