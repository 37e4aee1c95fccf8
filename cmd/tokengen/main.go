// tokengen mints and inspects session tokens for debugging against a
// running deployment. The signing key comes from JWT_KEY or an interactive
// prompt.
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/wyrmhole/backend/internal/identity"
)

var (
	sessionID string
	userID    string
	asHost    bool
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "mint":
		mintCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("tokengen - Wyrmhole session token tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tokengen mint -session <sid> [-user <uid>] [-host]  - Mint a session token")
	fmt.Println("  tokengen inspect <token>                            - Verify and print a token")
	fmt.Println()
	fmt.Println("The signing key is read from JWT_KEY, or prompted for when unset.")
}

func mintCmd(args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	fs.StringVar(&sessionID, "session", "", "Session id the token is bound to")
	fs.StringVar(&userID, "user", "", "User id (defaults to a fresh one)")
	fs.BoolVar(&asHost, "host", false, "Mint a host token")
	fs.Parse(args)

	if sessionID == "" {
		fmt.Fprintln(os.Stderr, "-session is required")
		os.Exit(1)
	}
	if userID == "" {
		userID = identity.NewID()
	}

	tokens := authority()
	token, err := tokens.Mint(sessionID, userID, asHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to mint token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token:")
	fmt.Printf("  %s\n", token)
	fmt.Println()
	fmt.Printf("Session: %s\n", sessionID)
	fmt.Printf("User:    %s\n", userID)
	fmt.Printf("Host:    %v\n", asHost)
	fmt.Printf("Expires: %s\n", time.Now().Add(identity.TokenLifetime).Format(time.RFC3339))
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: tokengen inspect <token>")
		os.Exit(1)
	}

	tokens := authority()
	claims, err := tokens.Verify(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Token is valid.")
	fmt.Println()
	fmt.Printf("Session: %s\n", claims.Audience)
	fmt.Printf("User:    %s\n", claims.Subject)
	fmt.Printf("Host:    %v\n", claims.IsHost)
	fmt.Printf("Issued:  %s\n", time.UnixMilli(claims.IssuedAt).Format(time.RFC3339))
	fmt.Printf("Expires: %s\n", time.UnixMilli(claims.ExpiresAt).Format(time.RFC3339))
}

func authority() *identity.Tokens {
	secret := os.Getenv("JWT_KEY")
	if secret == "" {
		fmt.Print("JWT key: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read key: %v\n", err)
			os.Exit(1)
		}
		secret = string(raw)
	}

	tokens, err := identity.NewTokens(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return tokens
}
