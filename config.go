package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "SIMONDUEL"
	defaultEnvFile = "simonduel.env"
)

type Config struct {
	bind           string
	port           int
	profile        bool
	requestTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	// play
	apiKey   string
	logFile  string
	noSound  bool
	panel    string
	player   string
	project  string
	refresh  time.Duration
	storeURL string

	// serve
	backend     string
	corsOrigins []string
	dsn         string
	rateLimit   float64
	seed        string

	// challenge
	difficulty int
	from       string
	sequence   string
	target     string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	return nil
}

func (c *Config) validatePlay() error {
	if c.player == "" {
		return errors.New("--player is required")
	}
	if c.project == "" {
		return errors.New("--project is required")
	}
	switch c.panel {
	case "terminal", "web":
	default:
		return fmt.Errorf("invalid panel (must be terminal or web): %q", c.panel)
	}
	if c.panel == "web" {
		return c.validate()
	}
	return nil
}

func (c *Config) validateServe() error {
	switch c.backend {
	case "memory":
	case "postgres":
		if c.dsn == "" {
			return errors.New("--dsn is required with --backend postgres")
		}
	default:
		return fmt.Errorf("invalid backend (must be memory or postgres): %q", c.backend)
	}
	if c.rateLimit < 0 {
		return fmt.Errorf("invalid rate limit (must not be negative): %v", c.rateLimit)
	}
	return c.validate()
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// loadEnvFile reads KEY=value pairs into the environment before flags are
// bound. Variables already set win. A missing default file is fine.
func loadEnvFile() error {
	path := os.Getenv(envPrefix + "_ENV_FILE")
	if path == "" {
		if _, err := os.Stat(defaultEnvFile); err != nil {
			return nil
		}
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

// bindFlags lets every flag be set from SIMONDUEL_<FLAG_NAME>.
func bindFlags(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			value := v.Get(f.Name)
			if f.Value.Type() == "stringSlice" {
				value = strings.Join(v.GetStringSlice(f.Name), ",")
			}
			_ = fs.Set(f.Name, fmt.Sprintf("%v", value))
		}
	})
}

func addServerFlags(fs *pflag.FlagSet, cfg *Config, port int, prefix string) {
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: "+prefix+"_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", port, "port to listen on (env: "+prefix+"_PORT)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: "+prefix+"_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: "+prefix+"_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: "+prefix+"_TLS_KEY)")
}

func addStoreFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.apiKey, "api-key", "", "api key sent to the document store (env: SIMONDUEL_API_KEY)")
	fs.StringVar(&cfg.project, "project", "", "document store project id (env: SIMONDUEL_PROJECT)")
	fs.DurationVar(&cfg.requestTimeout, "request-timeout", 10*time.Second, "timeout for each document store request (env: SIMONDUEL_REQUEST_TIMEOUT)")
	fs.StringVar(&cfg.storeURL, "store-url", defaultStoreURL, "base url of the document store REST api (env: SIMONDUEL_STORE_URL)")
}

func newPlayCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Run the device: load your challenges and play them.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validatePlay(); err != nil {
				return err
			}
			return Play(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	addStoreFlags(fs, cfg)
	addServerFlags(fs, cfg, 8080, envPrefix)
	fs.StringVar(&cfg.logFile, "log-file", "simonduel.log", "where logs go while the terminal panel owns the screen (env: SIMONDUEL_LOG_FILE)")
	fs.BoolVar(&cfg.noSound, "no-sound", false, "do not play tones with the LEDs (env: SIMONDUEL_NO_SOUND)")
	fs.StringVar(&cfg.panel, "panel", "terminal", "front panel to use: terminal or web (env: SIMONDUEL_PANEL)")
	fs.StringVar(&cfg.player, "player", "", "id of the player using this device (env: SIMONDUEL_PLAYER)")
	fs.DurationVar(&cfg.refresh, "refresh", defaultRefreshInterval, "how often the menu re-reads challenges (env: SIMONDUEL_REFRESH)")

	bindFlags(fs)

	return cmd
}

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local document store speaking the same REST dialect.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateServe(); err != nil {
				return err
			}
			return ServeStore(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	addServerFlags(fs, cfg, 8081, envPrefix)
	fs.StringVar(&cfg.backend, "backend", "memory", "where documents are kept: memory or postgres (env: SIMONDUEL_BACKEND)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", []string{"*"}, "origins allowed to call the store (env: SIMONDUEL_CORS_ORIGINS)")
	fs.StringVar(&cfg.dsn, "dsn", "", "postgres connection string (env: SIMONDUEL_DSN)")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 20, "requests per second accepted, 0 to disable (env: SIMONDUEL_RATE_LIMIT)")
	fs.StringVar(&cfg.seed, "seed", "", "json file of documents to load at startup (env: SIMONDUEL_SEED)")

	bindFlags(fs)

	return cmd
}

func newChallengeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Send a new challenge to another player.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.project == "" {
				return errors.New("--project is required")
			}
			return SendChallenge(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	addStoreFlags(fs, cfg)
	fs.IntVar(&cfg.difficulty, "difficulty", defaultDifficulty, "intended difficulty, 1-10 (env: SIMONDUEL_DIFFICULTY)")
	fs.StringVar(&cfg.from, "from", "", "id of the challenging player (env: SIMONDUEL_FROM)")
	fs.StringVar(&cfg.sequence, "sequence", "", "colors to reproduce, as digits 1-3 (env: SIMONDUEL_SEQUENCE)")
	fs.StringVar(&cfg.target, "target", "", "id of the challenged player (env: SIMONDUEL_TARGET)")

	bindFlags(fs)

	return cmd
}

func newCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "simonduel",
		Short:         "A two-player color memory duel, settled through a shared document store.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
	}

	pfs := cmd.PersistentFlags()
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SIMONDUEL_VERBOSE)")
	pfs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SIMONDUEL_VERSION)")
	bindFlags(pfs)

	cmd.AddCommand(newPlayCmd(cfg), newServeCmd(cfg), newChallengeCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("simonduel v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
