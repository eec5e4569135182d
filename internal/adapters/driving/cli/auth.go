package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/propops/internal/core/domain"
)

var (
	loginAccessToken  string
	loginRefreshToken string
	loginExpiresIn    time.Duration
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the session credential",
	Long: `Store, inspect, renew and remove the credential used for the data
service. The access token is renewed ahead of expiry while a long-running
command such as watch is active.`,
	RunE: runAuthStatus,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a credential",
	Long: `Store an access token and, optionally, a refresh token.

Examples:
  propops auth login --access-token "$TOKEN" --expires-in 1h
  propops auth login --refresh-token "$REFRESH"   # renew right away`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the access token now",
	Args:  cobra.NoArgs,
	RunE:  runAuthRefresh,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored credential",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

func init() {
	authLoginCmd.Flags().StringVar(&loginAccessToken, "access-token", "", "access token")
	authLoginCmd.Flags().StringVar(&loginRefreshToken, "refresh-token", "", "refresh token")
	authLoginCmd.Flags().DurationVar(&loginExpiresIn, "expires-in", 0, "access token lifetime (0 = no expiry)")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	cred := domain.Credential{
		AccessToken:  loginAccessToken,
		RefreshToken: loginRefreshToken,
		TokenType:    "Bearer",
	}
	if loginExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(loginExpiresIn)
	}
	if err := rt.Credentials.Save(cmd.Context(), cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	cmd.Println("Credential saved.")

	if cred.AccessToken == "" && rt.Tokens != nil {
		return runAuthRefresh(cmd, nil)
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}

	cred, err := rt.Credentials.Load(cmd.Context())
	if errors.Is(err, domain.ErrNotFound) {
		cmd.Println("Not signed in.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}

	cmd.Printf("Access token:  %s\n", mask(cred.AccessToken))
	cmd.Printf("Refresh token: %s\n", mask(cred.RefreshToken))
	switch {
	case cred.ExpiresAt.IsZero():
		cmd.Println("Expires:       never")
	case cred.IsExpired(time.Now()):
		cmd.Printf("Expires:       expired at %s\n", cred.ExpiresAt.Format(time.RFC3339))
	default:
		cmd.Printf("Expires:       %s (in %s)\n", cred.ExpiresAt.Format(time.RFC3339),
			time.Until(cred.ExpiresAt).Round(time.Second))
	}
	return nil
}

func runAuthRefresh(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if rt.Tokens == nil {
		return errors.New("token renewal is not configured (set auth.token_url)")
	}

	cred, err := rt.Tokens.Refresh(cmd.Context())
	if err != nil {
		return describeRemoteError("refresh", err)
	}
	if cred.ExpiresAt.IsZero() {
		cmd.Println("Access token renewed.")
		return nil
	}
	cmd.Printf("Access token renewed, valid until %s.\n", cred.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runAuthLogout(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFor(cmd)
	if err != nil {
		return err
	}
	if err := rt.Credentials.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	cmd.Println("Signed out.")
	return nil
}

// mask shows only the last four characters of a secret.
func mask(secret string) string {
	switch {
	case secret == "":
		return "(none)"
	case len(secret) <= 4:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}
