// Command gen-token mints HS256 tokens accepted by the service in local auth mode.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

type options struct {
	secret   string
	audience string
	issuer   string
	name     string
	ttl      time.Duration
	count    int
	prefix   string
	start    int
	output   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "gen-token [user-id]",
		Short: "Mint HS256 tokens for local auth mode",
		Long: `gen-token signs tokens with the shared secret used when the service runs
with LOCAL_AUTH_MODE=hs256 or AUTH0_TEST_MODE=1. The first token is printed;
--output writes all of them as a JSON array.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				opts.secret = secretFromEnv()
			}
			tokens, err := generateTokens(opts, args)
			if err != nil {
				return err
			}
			if opts.output != "" {
				if err := writeTokens(opts.output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.secret, "secret", "", "signing secret (default $LOCAL_AUTH_SHARED_SECRET or $TEST_JWT_SECRET)")
	f.StringVar(&opts.audience, "audience", "", "aud claim")
	f.StringVar(&opts.issuer, "issuer", "", "iss claim")
	f.StringVar(&opts.name, "name", "", "display name claim")
	f.DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	f.IntVar(&opts.count, "count", 1, "number of tokens to generate")
	f.StringVar(&opts.prefix, "prefix", "local-user", "prefix for generated user ids when count > 1")
	f.IntVar(&opts.start, "start", 1, "starting index for generated user ids when count > 1")
	f.StringVar(&opts.output, "output", "", "file to write generated tokens as a JSON array")
	return cmd
}

func secretFromEnv() string {
	if s := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return s
	}
	return os.Getenv("TEST_JWT_SECRET")
}

func generateTokens(opts options, args []string) ([]string, error) {
	switch {
	case opts.secret == "":
		return nil, errors.New("a signing secret is required")
	case opts.count < 1:
		return nil, errors.New("count must be at least 1")
	case opts.start < 1:
		return nil, errors.New("start index must be at least 1")
	case len(args) > 0 && opts.count > 1:
		return nil, errors.New("explicit user id cannot be combined with count > 1")
	}

	tokens := make([]string, opts.count)
	for i := range tokens {
		userID := opts.prefix
		switch {
		case len(args) > 0:
			userID = args[0]
		case opts.count > 1:
			userID = fmt.Sprintf("%s-%d", opts.prefix, opts.start+i)
		}
		tok, err := signToken(opts, userID)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func signToken(opts options, userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(opts.ttl).Unix(),
	}
	if opts.audience != "" {
		claims["aud"] = opts.audience
	}
	if opts.issuer != "" {
		claims["iss"] = opts.issuer
	}
	if opts.name != "" {
		claims["name"] = opts.name
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.secret))
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
