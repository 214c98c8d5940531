package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/models"
	"github.com/joescharf/bounty/internal/output"
	"github.com/joescharf/bounty/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
	asUser  string
)

var rootCmd = &cobra.Command{
	Use:   "bounty",
	Short: "Bounty - crowdfunded bug bounties",
	Long: `bounty tracks reported bugs, the money pledged toward fixing them,
and the developers who claim and resolve them. It runs as a CLI, an HTTP API
(bounty serve) and an MCP stdio server (bounty mcp).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().StringVar(&asUser, "as", "", "Act as this user ID (default: identity.user_id)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bounty/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "bounty")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BOUNTY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "bounty"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", filepath.Join(stateDir, "bounty.db"))
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("port", 8080)
	viper.SetDefault("auth.jwt_secret", "change-me")
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("analysis.cache_ttl", "10m")
	viper.SetDefault("identity.user_id", "")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		s   store.Store
		err error
	)
	switch driver := viper.GetString("db.driver"); driver {
	case "memory":
		s = store.NewMemoryStore()
	case "sqlite", "":
		s, err = store.NewSQLiteStore(viper.GetString("db.path"))
	case "postgres":
		dsn := viper.GetString("db.dsn")
		if dsn == "" {
			return nil, fmt.Errorf("db.dsn is required for the postgres driver")
		}
		s, err = store.NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown db.driver %q (want memory, sqlite or postgres)", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	ui.VerboseLog("Using %s store", viper.GetString("db.driver"))
	dataStore = s
	return dataStore, nil
}

// getLedger wraps the shared store in a ledger.
func getLedger() (*ledger.Ledger, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return ledger.New(s), nil
}

// callerID returns the acting user from --as or identity.user_id.
func callerID() (string, error) {
	if asUser != "" {
		return asUser, nil
	}
	if id := viper.GetString("identity.user_id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no identity: pass --as <user-id> or set identity.user_id")
}

// findBug finds a bug by full ID or prefix match.
func findBug(ctx context.Context, l *ledger.Ledger, id string) (*models.Bug, error) {
	// Try exact match first
	if bug, err := l.GetBug(ctx, id); err == nil {
		return bug, nil
	}

	// Try prefix match - list all and filter
	lower := strings.ToLower(id)
	bugs, err := l.ListBugs(ctx, store.BugListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Bug
	for _, bug := range bugs {
		if strings.HasPrefix(bug.ID, lower) {
			matches = append(matches, bug)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("bug %s: %w", id, models.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous bug ID %s: matches %d bugs", id, len(matches))
	}
}

// shortID returns a truncated bug ID for display (prefix plus 8 ULID chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
