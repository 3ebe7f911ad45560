package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-extras/cobraflags"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"geolisting/internal/adapters/csvimport"
	"geolisting/internal/adapters/observability"
	"geolisting/internal/app"
	"geolisting/internal/domain"
	"geolisting/internal/shared"
	"geolisting/internal/storage"
)

var cfg shared.Config

// openStore is swapped out by tests.
var openStore = storage.Open

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Maintenance commands for the geolisting store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cfg = shared.Load()
			log.Logger = observability.NewLogger(cfg.AppEnv, "admin")
		},
	}
	root.AddCommand(
		newMigrateCommand(),
		newBootstrapRolesCommand(),
		newSitemapCommand(),
		newImportLocationsCommand(),
		newAddPartitionCommand(),
		newCreateSuperuserCommand(),
	)
	return root
}

// withStore opens the configured store, applies migrations and runs fn.
func withStore(ctx context.Context, fn func(domain.Store) error) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return fn(store)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(domain.Store) error {
				log.Info().Str("driver", cfg.DBDriver).Msg("schema up to date")
				return nil
			})
		},
	}
}

func newBootstrapRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-roles",
		Short: `Create the "Property Owners" role with view, add and change rights`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(s domain.Store) error {
				r, err := app.NewAccountService(s, cfg.BcryptCost).BootstrapRoles(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", r.Name, r.Permissions)
				return nil
			})
		},
	}
}

const outFlag = "out"

var sitemapFlags = map[string]cobraflags.Flag{
	outFlag: &cobraflags.StringFlag{
		Name:  outFlag,
		Value: "",
		Usage: `Output file; "-" writes to stdout. Defaults to SITEMAP_PATH`,
	},
}

func newSitemapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemap",
		Short: "Write the location sitemap as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := sitemapFlags[outFlag].GetString()
			if path == "" {
				path = cfg.SitemapPath
			}
			return withStore(cmd.Context(), func(s domain.Store) error {
				var w io.Writer = cmd.OutOrStdout()
				if path != "-" {
					f, err := os.Create(path)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				if err := app.NewSitemapService(s, nil, 0).Write(cmd.Context(), w); err != nil {
					return err
				}
				if path != "-" {
					log.Info().Str("path", path).Msg("sitemap written")
				}
				return nil
			})
		},
	}
	cobraflags.RegisterMap(cmd, sitemapFlags)
	return cmd
}

const fileFlag = "file"

var importFlags = map[string]cobraflags.Flag{
	fileFlag: &cobraflags.StringFlag{
		Name:  fileFlag,
		Value: "-",
		Usage: `CSV file with a header line; "-" reads stdin`,
	},
}

func newImportLocationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-locations",
		Short: "Import locations from CSV, parents before children",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if path := importFlags[fileFlag].GetString(); path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withStore(cmd.Context(), func(s domain.Store) error {
				svc := app.NewLocationService(s, nil, 0, cfg.ImportWorkers)
				rep, err := csvimport.Load(cmd.Context(), r, svc)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "imported %d, rejected %d\n", rep.Imported, len(rep.Rejected))
				for _, e := range rep.Rejected {
					fmt.Fprintf(out, "  line %d (%s): %v\n", e.Row, e.ID, e.Err)
				}
				return nil
			})
		},
	}
	cobraflags.RegisterMap(cmd, importFlags)
	return cmd
}

func newAddPartitionCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "add-partition feed|language VALUE",
		Short:     "Add a feed or language partition; existing ones are left alone",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"feed", "language"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, value := args[0], args[1]
			return withStore(cmd.Context(), func(s domain.Store) error {
				var err error
				switch kind {
				case "feed":
					n, perr := strconv.ParseInt(value, 10, 16)
					if perr != nil {
						return fmt.Errorf("feed %q: %w", value, perr)
					}
					err = s.AddFeedPartition(cmd.Context(), domain.Feed(n))
				case "language":
					err = s.AddLanguagePartition(cmd.Context(), value)
				default:
					return fmt.Errorf("unknown partition kind %q (want feed or language)", kind)
				}
				if err != nil {
					return err
				}
				p, err := s.Partitions(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "feeds %v, languages %v\n", p.Feeds, p.Languages)
				return nil
			})
		},
	}
}

const (
	usernameFlag = "username"
	emailFlag    = "email"
	passwordFlag = "password"
)

var superuserFlags = map[string]cobraflags.Flag{
	usernameFlag: &cobraflags.StringFlag{
		Name:  usernameFlag,
		Value: "admin",
		Usage: "Login name",
	},
	emailFlag: &cobraflags.StringFlag{
		Name:  emailFlag,
		Value: "",
		Usage: "Email address (required)",
	},
	passwordFlag: &cobraflags.StringFlag{
		Name:  passwordFlag,
		Value: "",
		Usage: "Password; falls back to ADMIN_PASSWORD",
	},
}

func newCreateSuperuserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Create a user who bypasses the access policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := domain.SignUp{
				Username: superuserFlags[usernameFlag].GetString(),
				Email:    superuserFlags[emailFlag].GetString(),
				Password: superuserFlags[passwordFlag].GetString(),
			}
			if in.Password == "" {
				in.Password = os.Getenv("ADMIN_PASSWORD")
			}
			return withStore(cmd.Context(), func(s domain.Store) error {
				u, err := app.NewAccountService(s, cfg.BcryptCost).CreateSuperuser(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "superuser %s created (id %d)\n", u.Username, u.ID)
				return nil
			})
		},
	}
	cobraflags.RegisterMap(cmd, superuserFlags)
	return cmd
}
