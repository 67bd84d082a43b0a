package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"live-quiz-service/internal/domain"
	transport "live-quiz-service/internal/transport/http"
)

// NewTokenCmd prints a signed access token for a user, for local testing against the API.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		userID       int64
		role         string
		loginSession string
		ttl          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errMissingSecret
			}
			if loginSession == "" {
				loginSession = fmt.Sprintf("cli-%d-%d", userID, time.Now().Unix())
			}
			tok, err := transport.NewAuthenticator(cfg.Server.JWTSecret).IssueToken(domain.Actor{
				UserID:       userID,
				Role:         domain.Role(role),
				LoginSession: loginSession,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleStudent), "instructor or student")
	cmd.Flags().StringVar(&loginSession, "session", "", "login session id")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
