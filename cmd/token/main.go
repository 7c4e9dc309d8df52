// Command token mints access tokens for instructors, admins and capture
// extensions using the API's signing configuration.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"liveattend/internal/auth"
	"liveattend/internal/config"
)

func main() {
	var (
		subject = pflag.StringP("subject", "s", "", "instructor id the token acts for")
		role    = pflag.StringP("role", "r", auth.RoleInstructor, "instructor, admin or extension")
		ttl     = pflag.Duration("ttl", 0, "token lifetime (defaults to TOKEN_TTL)")
		asJSON  = pflag.Bool("json", false, "print token and expiry as JSON")
	)
	pflag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "token: --subject is required")
		pflag.Usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	lifetime := cfg.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	tok, err := auth.Issue(*subject, *role, cfg.JWTIssuer, cfg.JWTSigningKey, lifetime)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(tok)
		return
	}
	fmt.Println(tok.AccessToken)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
}
