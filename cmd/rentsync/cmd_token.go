package main

import (
	"fmt"
	"io"
	"strings"

	"rental-sync/internal/pkg/jwt"

	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenScopes  []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a service token for the job API",
	Long: `Prints a signed service token for schedulers and the scraper service.
Scopes default to jobs:run and jobs:read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := jwt.NewHMACService(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenTTL)
		return printToken(cmd.OutOrStdout(), svc, tokenSubject, tokenScopes)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "scheduler", "caller name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scopes", nil, "comma separated scopes")
}

func printToken(w io.Writer, svc jwt.Service, subject string, scopes []string) error {
	clean := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	tok, err := svc.GenerateServiceToken(subject, clean)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}
