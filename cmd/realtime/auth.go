package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"sutext.github.io/realtime/hub"
)

var errNoToken = errors.New("missing bearer token")

// requestToken reads the bearer token from the Authorization header or, for
// browsers that cannot set headers on a WebSocket, the token query parameter.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// jwtAuthorizer accepts handshakes carrying an HS256 token signed with secret.
func jwtAuthorizer(secret []byte) hub.Authorizer {
	keyfunc := func(*jwt.Token) (any, error) {
		return secret, nil
	}
	return func(r *http.Request) error {
		raw := requestToken(r)
		if raw == "" {
			return errNoToken
		}
		_, err := jwt.Parse(raw, keyfunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		return err
	}
}

func signToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func tokenCmd(g *globals) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token accepted by serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Serve.Secret == "" {
				return errors.New("serve.secret is not set")
			}
			token, err := signToken([]byte(cfg.Serve.Secret), subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "realtime", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
