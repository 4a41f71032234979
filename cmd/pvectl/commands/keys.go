package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/auth"
	"github.com/narvanalabs/pve-monitor/internal/secrets"
	"github.com/spf13/cobra"
)

// Token returns the command minting an API token. It signs locally with the
// monitor's JWT secret and does not contact the server.
func Token() *cobra.Command {
	var (
		subject string
		role    string
		secret  string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if len(secret) < 32 {
				return fmt.Errorf("JWT secret must be at least 32 characters (use --secret or JWT_SECRET)")
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}

			svc := auth.NewService(&auth.Config{JWTSecret: []byte(secret), TokenExpiry: expiry}, nil)
			token, err := svc.GenerateToken(subject, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "Role: viewer or operator")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (or set JWT_SECRET env var)")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*365*time.Hour, "Token lifetime")
	return cmd
}

// EncryptToken returns the command encrypting a cluster token value for the
// connections file.
func EncryptToken() *cobra.Command {
	var publicKey string

	cmd := &cobra.Command{
		Use:   "encrypt-token [value]",
		Short: "Encrypt a cluster API token value with an age public key",
		Long: `Encrypt a cluster API token value with an age public key.

The value is read from the argument or, when omitted, from the first line of
stdin. Paste the output into token_value in the connections file; the monitor
decrypts it with AGE_IDENTITY.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if publicKey == "" {
				publicKey = os.Getenv("AGE_RECIPIENT")
			}
			if publicKey == "" {
				return fmt.Errorf("an age public key is required (use --public-key or AGE_RECIPIENT)")
			}

			value := ""
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading token from stdin: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if value == "" {
				return fmt.Errorf("token value is empty")
			}

			cipher, err := secrets.NewCipher(&secrets.Config{AgePublicKey: publicKey}, nil)
			if err != nil {
				return err
			}
			encrypted, err := cipher.EncryptToken(cmd.Context(), value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encrypted)
			return nil
		},
	}

	cmd.Flags().StringVar(&publicKey, "public-key", "", "age public key, age1... (or set AGE_RECIPIENT)")
	return cmd
}

// Keygen returns the command generating an age key pair.
func Keygen() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age key pair for token encryption",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := secrets.GenerateKeyPair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# public key: %s\n", pub)
			fmt.Fprintln(out, priv)
			return nil
		},
	}
}
