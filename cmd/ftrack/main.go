package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ftrack/internal/app"
	"ftrack/internal/config"
	"ftrack/internal/ft"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and overlays environment secrets.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// userFlag returns --user, falling back to the configured username.
func userFlag(cmd *cobra.Command, cfg *config.Config) string {
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		return u
	}
	return cfg.Username
}

var rootCmd = &cobra.Command{
	Use:          "ftrack",
	Short:        "Track, deduplicate and archive files across devices",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and archive keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			u, err := user.Current()
			if err != nil {
				return fmt.Errorf("determining username (pass --username): %w", err)
			}
			username = u.Username
		}
		roots, _ := cmd.Flags().GetStringSlice("root")
		for i, r := range roots {
			abs, err := filepath.Abs(r)
			if err != nil {
				return fmt.Errorf("resolving root %s: %w", r, err)
			}
			roots[i] = abs
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, username, defaults["base_dir"])
		cfg.Agent.Roots = roots

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Username:  %s\n", username)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])

		passphrase, err := readPassphrase("Archive key passphrase: ", true)
		if err != nil {
			return err
		}
		created, err := app.InitKeys(cfg, passphrase)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Archive keys written to %s\n", filepath.Dir(cfg.Encryption.PrivateKeyPath))
		} else {
			fmt.Println("Archive keys already present; kept them.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Print(renderConfig(cfg))
		return nil
	},
}

// server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the catalog server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := app.NewServerApp(cfg, "server", os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()
		return a.Serve(ctx)
	},
}

// agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Watch the configured roots and run tasks for this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		a, err := app.NewAgentApp(ctx, cfg, "agent", app.AgentOptions{Stderr: os.Stderr})
		if err != nil {
			return err
		}
		defer a.Close()

		skip, _ := cmd.Flags().GetBool("no-unlock")
		switch {
		case !a.ArchiveKeyConfigured():
			a.Logger().Warn("no archive key configured; run `ftrack config init`")
		case skip:
			a.Logger().Warn("archive key locked; unarchive tasks will fail until restart")
		default:
			passphrase, err := readPassphrase("Archive key passphrase: ", false)
			if err != nil {
				return err
			}
			if err := a.Unlock(passphrase); err != nil {
				return err
			}
		}
		return a.Run(ctx)
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Report every file under the roots once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		interactive := term.IsTerminal(int(os.Stderr.Fd()))
		a, err := app.NewAgentApp(ctx, cfg, "scan", app.AgentOptions{Progress: interactive})
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		stats, err := a.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		fmt.Printf("Scanned %d file(s) in %s: %d new, %d duplicate, %d updated, %d skipped, %d failed\n",
			stats.Files, time.Since(start).Truncate(time.Millisecond),
			stats.Created, stats.Duplicates, stats.Updated, stats.Skipped, stats.Failed)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the catalog database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg.Database); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create or update a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		device, _ := cmd.Flags().GetString("device")
		if device == "" {
			device = cfg.DeviceID
		}
		clean, _ := cmd.Flags().GetBool("clean-duplicates")

		profile, err := app.NewClient(cfg).ProvisionUser(cmd.Context(), ft.UserProfile{
			Username:              args[0],
			DeviceID:              device,
			CleanDuplicatesOnScan: clean,
		})
		if err != nil {
			return fmt.Errorf("provisioning user: %w", err)
		}
		fmt.Printf("User %s on device %s (clean duplicates: %v)\n", profile.Username, profile.DeviceID, profile.CleanDuplicatesOnScan)
		return nil
	},
}

// files command
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List tracked files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var filter ft.FileFilter
		if stale, _ := cmd.Flags().GetString("stale"); stale != "" {
			before, err := parseStale(stale, time.Now())
			if err != nil {
				return err
			}
			filter.StaleBefore = &before
		}

		files, err := app.NewClient(cfg).ListFiles(cmd.Context(), userFlag(cmd, cfg), filter)
		if err != nil {
			return fmt.Errorf("listing files: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		fmt.Println(renderFiles(files))
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage usage by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := app.NewClient(cfg).GetStats(cmd.Context(), userFlag(cmd, cfg))
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		fmt.Println(renderStats(report))
		return nil
	},
}

// task command
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage remote tasks",
}

var taskEnqueueCmd = &cobra.Command{
	Use:   "enqueue ACTION PATH",
	Short: "Ask a device to sync, unsync, archive or unarchive a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		action, err := ft.ParseAction(args[0])
		if err != nil {
			return err
		}
		path, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}
		device, _ := cmd.Flags().GetString("device")
		if device == "" {
			device = cfg.DeviceID
		}

		id, err := app.NewClient(cfg).EnqueueTask(cmd.Context(), ft.TaskRequest{
			DeviceID: device,
			Username: userFlag(cmd, cfg),
			Action:   action,
			Path:     path,
		})
		if errors.Is(err, ft.ErrInvalidPath) {
			return fmt.Errorf("%s is not tracked on device %s", path, device)
		}
		if err != nil {
			return fmt.Errorf("enqueueing task: %w", err)
		}
		fmt.Printf("Task %s queued: %s %s\n", id, action, path)
		return nil
	},
}

var taskDeadLetterCmd = &cobra.Command{
	Use:   "dead-letter",
	Short: "List tasks that exhausted their attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tasks, err := app.NewClient(cfg).ListDeadLetterTasks(cmd.Context(), userFlag(cmd, cfg))
		if err != nil {
			return fmt.Errorf("listing dead-letter tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No dead-lettered tasks.")
			return nil
		}
		fmt.Println(renderTasks(tasks))
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search image captions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		results, err := app.NewClient(cfg).SearchCaptions(cmd.Context(), userFlag(cmd, cfg), query)
		if err != nil {
			return fmt.Errorf("searching captions: %w", err)
		}
		if len(results) == 0 {
			fmt.Printf("No images match %q.\n", query)
			return nil
		}
		fmt.Println(renderCaptions(results))
		return nil
	},
}

// readPassphrase takes the passphrase from FTRACK_PASSPHRASE, or prompts on
// the terminal. With confirm set the prompt asks twice.
func readPassphrase(prompt string, confirm bool) (string, error) {
	if p := os.Getenv("FTRACK_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal for the passphrase prompt: set FTRACK_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Repeat passphrase: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passphrases do not match")
		}
	}
	return string(first), nil
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("username", "", "Username for this device (default: current OS user)")
	configInitCmd.Flags().StringSlice("root", nil, "Directory to watch; repeatable")

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)

	// user subcommands
	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().String("device", "", "Device id (default: this device)")
	userAddCmd.Flags().Bool("clean-duplicates", false, "Delete duplicate files found while scanning")

	// task subcommands
	taskCmd.AddCommand(taskEnqueueCmd)
	taskCmd.AddCommand(taskDeadLetterCmd)
	taskEnqueueCmd.Flags().String("device", "", "Device that should run the task (default: this device)")

	agentCmd.Flags().Bool("no-unlock", false, "Start without unlocking the archive key")
	filesCmd.Flags().String("stale", "", `Only files not accessed since this time, e.g. "3 months ago"`)

	for _, c := range []*cobra.Command{filesCmd, statsCmd, taskEnqueueCmd, taskDeadLetterCmd, searchCmd} {
		c.Flags().StringP("user", "u", "", "Username (default: from config)")
	}

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(searchCmd)
}
