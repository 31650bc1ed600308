package cmd

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

var (
	tokenConsumerID int64
	tokenTTL        time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a consumer bearer token",
	Long: `Mint an HS256-signed bearer token for a consumer.

The token carries sub="consumer_id=<id>" and is signed with the [auth]
secret from config.toml; the server accepts it until it expires. Minting
is offline - the consumer id is not checked against the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateAuth(); err != nil {
			return err
		}
		if tokenConsumerID <= 0 {
			return fmt.Errorf("--consumer must be a positive id")
		}

		ttl := tokenTTL
		if ttl == 0 {
			ttl = cfg.TokenTTL()
		}
		now := time.Now()
		claims := jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("consumer_id=%d", tokenConsumerID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
			SignedString([]byte(cfg.Auth.Secret))
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}

		fmt.Println(signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenConsumerID, "consumer", 0, "consumer id the token authenticates (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: [auth] token_ttl_hours)")
	_ = tokenCmd.MarkFlagRequired("consumer")
	rootCmd.AddCommand(tokenCmd)
}
