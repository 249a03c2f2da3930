// Command devtoken mints an access token for local testing of the admin
// API.  The secret defaults to JWT_SECRET from the environment or .env.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/account-admin/internal/auth"
	"github.com/iliyamo/account-admin/internal/model"
)

func main() {
	_ = godotenv.Load()

	id := flag.Uint64("id", 0, "users.id of the actor")
	role := flag.String("role", string(model.RoleAdmin), "actor role (customer|seller|admin|super_admin)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	flag.Parse()

	if *id == 0 || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}
	r := model.Role(*role)
	if !r.Valid() {
		log.Fatal().Str("role", *role).Msg("invalid role")
	}

	tok, err := auth.NewAccessToken(*secret, model.Actor{ID: *id, Role: r}, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	fmt.Println(tok.Token)
}
