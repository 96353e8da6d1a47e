package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"memoryagent/internal/domain"
	"memoryagent/internal/registry"

	"github.com/spf13/cobra"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered message sources",
	}
	cmd.AddCommand(sourcesSeedCmd())
	cmd.AddCommand(sourcesListCmd())
	cmd.AddCommand(sourcesToggleCmd("activate", true))
	cmd.AddCommand(sourcesToggleCmd("deactivate", false))
	cmd.AddCommand(sourcesSetCredentialsCmd())
	return cmd
}

func sourcesSeedCmd() *cobra.Command {
	var file string
	var reconcile bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default sources, or those listed in a YAML file",
		Long: `Creates every source that does not exist yet. Existing sources are left
untouched unless --reconcile is given, in which case their active flag,
api key, url and credentials are brought in line with the input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			if file != "" {
				cfg.Sources.SeedFile = file
			}
			srcs, err := seedSources(cfg)
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := registry.Seed(cmd.Context(), st, srcs, reconcile, logger)
			if err != nil {
				return err
			}
			for _, name := range rep.Created {
				fmt.Printf("created   %s\n", name)
			}
			for _, name := range rep.Updated {
				fmt.Printf("updated   %s\n", name)
			}
			for _, name := range rep.Existing {
				fmt.Printf("exists    %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file (default: sources.seedFile or built-in sources)")
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "overwrite existing sources with the seeded values")
	return cmd
}

func sourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			srcs, err := st.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tACTIVE\tCREDENTIALS\tURL\tCREATED")
			for _, s := range srcs {
				creds := "-"
				switch {
				case s.Credentials.Twilio.Complete():
					creds = "twilio"
				case s.APIKey != "":
					creds = "api key"
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.Name, s.Active, creds, s.URL, s.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func sourcesToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: fmt.Sprintf("Mark a source as %s", map[bool]string{true: "active", false: "inactive"}[active]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetSourceActive(cmd.Context(), args[0], active); err != nil {
				return err
			}
			logger.Info("source updated", "source", args[0], "active", active)
			return nil
		},
	}
}

// credentialUpdate holds the set-credentials flags; nil fields are left alone.
type credentialUpdate struct {
	AccountSID *string
	AuthToken  *string
	FromNumber *string
	APIKey     *string
	URL        *string
}

func (u credentialUpdate) empty() bool {
	return u.AccountSID == nil && u.AuthToken == nil && u.FromNumber == nil && u.APIKey == nil && u.URL == nil
}

// apply copies the given fields onto src, creating the Twilio block on first use.
func (u credentialUpdate) apply(src *domain.Source) {
	if u.AccountSID != nil || u.AuthToken != nil || u.FromNumber != nil {
		tw := domain.TwilioCredentials{}
		if src.Credentials.Twilio != nil {
			tw = *src.Credentials.Twilio
		}
		if u.AccountSID != nil {
			tw.AccountSID = *u.AccountSID
		}
		if u.AuthToken != nil {
			tw.AuthToken = *u.AuthToken
		}
		if u.FromNumber != nil {
			tw.FromNumber = *u.FromNumber
		}
		src.Credentials.Twilio = &tw
	}
	if u.APIKey != nil {
		src.APIKey = *u.APIKey
	}
	if u.URL != nil {
		src.URL = *u.URL
	}
}

// findSource matches name case-insensitively, active or not.
func findSource(srcs []domain.Source, name string) (domain.Source, bool) {
	for _, s := range srcs {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return domain.Source{}, false
}

func sourcesSetCredentialsCmd() *cobra.Command {
	var accountSID, authToken, from, apiKey, url string

	cmd := &cobra.Command{
		Use:   "set-credentials <name>",
		Short: "Update the credentials, api key or url of a source",
		Long: `Sets only the flags given. Twilio sources take --account-sid,
--auth-token and --from; Telegram sources keep the bot token in --api-key.
A later 'sources seed --reconcile' overwrites these values with the seed input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u credentialUpdate
			flags := cmd.Flags()
			if flags.Changed("account-sid") {
				u.AccountSID = &accountSID
			}
			if flags.Changed("auth-token") {
				u.AuthToken = &authToken
			}
			if flags.Changed("from") {
				u.FromNumber = &from
			}
			if flags.Changed("api-key") {
				u.APIKey = &apiKey
			}
			if flags.Changed("url") {
				u.URL = &url
			}
			if u.empty() {
				return fmt.Errorf("nothing to update; pass at least one flag")
			}

			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			srcs, err := st.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			src, ok := findSource(srcs, args[0])
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, args[0])
			}
			u.apply(&src)
			if err := st.UpdateSource(cmd.Context(), src); err != nil {
				return err
			}
			logger.Info("source credentials updated", "source", src.Name,
				"twilio_complete", src.Credentials.Twilio.Complete(), "api_key_set", src.APIKey != "")
			return nil
		},
	}
	cmd.Flags().StringVar(&accountSID, "account-sid", "", "Twilio account SID")
	cmd.Flags().StringVar(&authToken, "auth-token", "", "Twilio auth token")
	cmd.Flags().StringVar(&from, "from", "", "Twilio sender number")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "provider api key (Telegram bot token)")
	cmd.Flags().StringVar(&url, "url", "", "provider API base url")
	return cmd
}
