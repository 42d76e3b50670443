package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"themis/internal/config"
)

var (
	tokenSub  int64
	tokenRole string
	tokenTTL  time.Duration
)

// tokenCmd signs a development bearer token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for an existing user",
	Long: `Signs a token with JWT_SECRET, JWT_AUDIENCE and JWT_ISSUER.

The API still loads the user named by --sub on every request, so the id
must exist in the users table.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenSub, "sub", 0, "User id placed in the sub claim (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "admin", "Role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 2*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("sub")
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateJWT(); err != nil {
		return err
	}
	token, err := signDevToken(cfg, tokenSub, tokenRole, tokenTTL, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}

func signDevToken(c config.Config, sub int64, role string, ttl time.Duration, now time.Time) (string, error) {
	if sub <= 0 {
		return "", errors.New("--sub must be a positive user id")
	}
	if ttl <= 0 {
		return "", errors.New("--ttl must be positive")
	}
	method := jwt.GetSigningMethod(c.JWTAlgorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}

	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(sub, 10),
		"role": strings.ToLower(strings.TrimSpace(role)),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if c.JWTAudience != "" {
		claims["aud"] = c.JWTAudience
	}
	if c.JWTIssuer != "" {
		claims["iss"] = c.JWTIssuer
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(c.JWTSecret))
}
