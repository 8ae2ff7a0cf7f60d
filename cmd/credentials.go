package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/noted/internal/config"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/logging"
)

func newCredentialsCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and prune stored Notion credentials",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Credential store to use instead of the configured one")

	open := func(ctx context.Context) (credential.Store, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if databaseURL != "" {
			cfg.Storage.DatabaseURL = databaseURL
		}
		key, err := credential.DecodeKey(cfg.Storage.EncryptionKey)
		if err != nil {
			return nil, err
		}
		var opts []credential.Option
		if key != nil {
			opts = append(opts, credential.WithEncryptionKey(key))
		}
		return credential.Open(ctx, cfg.Storage.DatabaseURL, opts...)
	}

	cmd.AddCommand(newCredentialsListCmd(open))
	cmd.AddCommand(newCredentialsExpireCmd(open))
	cmd.AddCommand(newCredentialsDeleteCmd(open))
	return cmd
}

type storeOpener func(ctx context.Context) (credential.Store, error)

func newCredentialsListCmd(open storeOpener) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users with a stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), open, func(store credential.Store) error {
				users, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				return printCredentials(cmd.OutOrStdout(), users, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCredentialsExpireCmd(open storeOpener) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete credentials not refreshed within --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return withStore(cmd.Context(), open, func(store credential.Store) error {
				n, err := store.Expire(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d credential(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Age after which a credential is removed")
	return cmd
}

func newCredentialsDeleteCmd(open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user-id>...",
		Short: "Delete the credentials of the given users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), open, func(store credential.Store) error {
				for _, userID := range args {
					if err := store.Delete(cmd.Context(), userID); err != nil {
						return fmt.Errorf("delete %s: %w", logging.AnonymizeUser(userID), err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d credential(s)\n", len(args))
				return nil
			})
		},
	}
}

func withStore(ctx context.Context, open storeOpener, fn func(credential.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func printCredentials(w io.Writer, users []credential.Summary, asJSON bool) error {
	if asJSON {
		if users == nil {
			users = []credential.Summary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER ID\tWORKSPACE\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.UserID, u.WorkspaceID, u.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
