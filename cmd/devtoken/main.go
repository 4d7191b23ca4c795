// Command devtoken prints a bearer token for an identity, signed with the
// server's JWT settings. Intended for local development only.
//
//	CROWDLEDGER_JWT_SIGNING_KEY=... devtoken -identity 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	jwt_token "crowdledger/internal/jwt_token"
	"crowdledger/internal/platform/config"
	id "crowdledger/pkg/domain"
)

func main() {
	identity := flag.String("identity", "", "0x-prefixed account address to issue the token for")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to CROWDLEDGER_JWT_TOKEN_TTL)")
	flag.Parse()

	token, err := issue(*identity, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func issue(identity string, ttl time.Duration) (string, error) {
	who, err := id.ParseIdentity(identity)
	if err != nil {
		return "", err
	}
	// Only the JWT block is needed; the full config requires a platform owner.
	var cfg config.JWTConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: config.EnvPrefix}); err != nil {
		return "", fmt.Errorf("parse env: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}
	svc := jwt_token.NewJWTService(cfg.SigningKey, cfg.Issuer, cfg.Audience)
	return svc.GenerateAccessToken(who, ttl)
}
