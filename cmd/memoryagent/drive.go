package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"memoryagent/internal/drive"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func driveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Google Drive authorization and inspection",
	}
	cmd.AddCommand(driveAuthCmd())
	cmd.AddCommand(driveInfoCmd())
	return cmd
}

func driveAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Drive and store the token file",
		Long: `Prints the Google consent URL, reads the authorization code pasted back
and writes the resulting token to drive.tokenPath. Run it once per
deployment; the server refreshes the token on its own afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			conf, err := drive.LoadOAuthConfig(cfg.Drive.CredentialsPath)
			if err != nil {
				return err
			}
			if conf.RedirectURL == "" {
				conf.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
			}

			url := conf.AuthCodeURL("memoryagent", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Printf("Open this URL in a browser and grant access:\n\n  %s\n\n", url)
			fmt.Print("Authorization code: ")

			code, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}
			code = strings.TrimSpace(code)
			if code == "" {
				return fmt.Errorf("no authorization code entered")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			tok, err := conf.Exchange(ctx, code)
			if err != nil {
				return fmt.Errorf("exchange code: %w", err)
			}
			if tok.RefreshToken == "" {
				logger.Warn("token has no refresh token; it will stop working once it expires")
			}

			cache := drive.NewTokenCache(context.Background(), cfg.Drive.TokenPath, conf, logger)
			if err := cache.Store(tok); err != nil {
				return err
			}
			fmt.Printf("Token saved to %s\n", cfg.Drive.TokenPath)
			return nil
		},
	}
}

func driveInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file-id>",
		Short: "Show metadata of a file stored in Drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			reloc, err := newRelocator(ctx, cfg)
			if err != nil {
				return err
			}
			f, err := reloc.Info(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:        %s\n", f.Id)
			fmt.Printf("name:      %s\n", f.Name)
			fmt.Printf("mime:      %s\n", f.MimeType)
			fmt.Printf("size:      %s\n", humanSize(f.Size))
			fmt.Printf("created:   %s\n", f.CreatedTime)
			fmt.Printf("modified:  %s\n", f.ModifiedTime)
			fmt.Printf("link:      %s\n", f.WebViewLink)
			return nil
		},
	}
}
