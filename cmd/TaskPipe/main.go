package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/TaskPipe/internal/api"
	"github.com/BTreeMap/TaskPipe/internal/flow"
	"github.com/BTreeMap/TaskPipe/internal/genai"
	"github.com/BTreeMap/TaskPipe/internal/lockfile"
	"github.com/BTreeMap/TaskPipe/internal/media"
	"github.com/BTreeMap/TaskPipe/internal/messaging"
	"github.com/BTreeMap/TaskPipe/internal/store"
	"github.com/BTreeMap/TaskPipe/internal/tasks"
	"github.com/BTreeMap/TaskPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TaskPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TaskPipe state data
	DefaultStateDir = "/var/lib/taskpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "taskpipe.db"
	// DefaultMediaDirName is the staged media directory inside the state directory
	DefaultMediaDirName = "media"
	// DefaultTimezone is where task due dates are computed
	DefaultTimezone = "America/Sao_Paulo"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("TaskPipe is already running", "error", err)
		} else {
			slog.Error("Failed to lock state directory", "error", err)
		}
		os.Exit(1)
	}

	apiOpts, err := buildAPIOptions(flags)
	if err != nil {
		slog.Error("Invalid API configuration", "error", err)
		lock.Release()
		os.Exit(1)
	}
	twOpts := buildTwilioOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	taskOpts := buildTaskOptions(flags)
	mediaOpts := buildMediaOptions(flags)

	slog.Info("Bootstrapping TaskPipe with configured modules")
	slog.Debug("Module options counts", "twilio", len(twOpts), "store", len(storeOpts), "genai", len(genaiOpts),
		"tasks", len(taskOpts), "media", len(mediaOpts), "api", len(apiOpts))
	runErr := api.Run(twOpts, storeOpts, genaiOpts, taskOpts, mediaOpts, apiOpts)
	lock.Release()
	if runErr != nil {
		slog.Error("TaskPipe failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("TaskPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir           string
	DatabaseURL        string
	MediaDir           string
	OpenAIKey          string
	OpenAIModel        string
	WebSearch          bool
	GenAIDebug         bool
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	ValidateSignature  bool
	PublicBaseURL      string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	APIAddr            string
	Timezone           string
	SweepSchedule      string
	PendingMediaTTL    time.Duration
	PendingDeletionTTL time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir           *string
	dbDSN              *string
	mediaDir           *string
	openaiKey          *string
	openaiModel        *string
	webSearch          *bool
	genaiDebug         *bool
	twilioAccountSID   *string
	twilioAuthToken    *string
	twilioFromNumber   *string
	validateSignature  *bool
	publicBaseURL      *string
	googleClientID     *string
	googleClientSecret *string
	googleRedirectURL  *string
	apiAddr            *string
	timezone           *string
	sweepSchedule      *string
	pendingMediaTTL    *time.Duration
	pendingDeletionTTL *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:           util.StringEnv("TASKPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MediaDir:           os.Getenv("MEDIA_DIR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        os.Getenv("OPENAI_MODEL"),
		WebSearch:          util.ParseBoolEnv("GENAI_WEB_SEARCH", true),
		GenAIDebug:         util.ParseBoolEnv("GENAI_DEBUG", false),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		ValidateSignature:  util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),
		PublicBaseURL:      os.Getenv("PUBLIC_BASE_URL"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		APIAddr:            os.Getenv("API_ADDR"),
		Timezone:           util.StringEnv("TASKPIPE_TIMEZONE", DefaultTimezone),
		SweepSchedule:      util.StringEnv("TASKPIPE_SWEEP_SCHEDULE", api.DefaultSweepSchedule),
		PendingMediaTTL:    util.ParseDurationEnv("PENDING_MEDIA_TTL", messaging.DefaultPendingMediaTTL),
		PendingDeletionTTL: util.ParseDurationEnv("PENDING_DELETION_TTL", flow.DefaultPendingDeletionTTL),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.MediaDir == "" {
		config.MediaDir = filepath.Join(config.StateDir, DefaultMediaDirName)
	}
	if config.GoogleRedirectURL == "" && config.PublicBaseURL != "" {
		config.GoogleRedirectURL = config.PublicBaseURL + api.OAuthCallbackPath
	}

	slog.Debug("environment variables loaded",
		"TASKPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MEDIA_DIR", config.MediaDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"GENAI_WEB_SEARCH", config.WebSearch,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_FROM_NUMBER", config.TwilioFromNumber,
		"TWILIO_VALIDATE_SIGNATURE", config.ValidateSignature,
		"PUBLIC_BASE_URL", config.PublicBaseURL,
		"GOOGLE_CLIENT_ID_SET", config.GoogleClientID != "",
		"GOOGLE_REDIRECT_URL", config.GoogleRedirectURL,
		"API_ADDR", config.APIAddr,
		"TASKPIPE_TIMEZONE", config.Timezone,
		"TASKPIPE_SWEEP_SCHEDULE", config.SweepSchedule,
		"PENDING_MEDIA_TTL", config.PendingMediaTTL,
		"PENDING_DELETION_TTL", config.PendingDeletionTTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:           fs.String("state-dir", config.StateDir, "state directory for TaskPipe data (overrides $TASKPIPE_STATE_DIR)"),
		dbDSN:              fs.String("db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)"),
		mediaDir:           fs.String("media-dir", config.MediaDir, "directory for staged attachments (overrides $MEDIA_DIR)"),
		openaiKey:          fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:        fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		webSearch:          fs.Bool("web-search", config.WebSearch, "allow web search for general questions (overrides $GENAI_WEB_SEARCH)"),
		genaiDebug:         fs.Bool("genai-debug", config.GenAIDebug, "write model calls to the state directory (overrides $GENAI_DEBUG)"),
		twilioAccountSID:   fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:    fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFromNumber:   fs.String("twilio-from", config.TwilioFromNumber, "WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		validateSignature:  fs.Bool("validate-signature", config.ValidateSignature, "verify X-Twilio-Signature (overrides $TWILIO_VALIDATE_SIGNATURE)"),
		publicBaseURL:      fs.String("public-base-url", config.PublicBaseURL, "public scheme and host of this server (overrides $PUBLIC_BASE_URL)"),
		googleClientID:     fs.String("google-client-id", config.GoogleClientID, "Google OAuth client ID (overrides $GOOGLE_CLIENT_ID)"),
		googleClientSecret: fs.String("google-client-secret", config.GoogleClientSecret, "Google OAuth client secret (overrides $GOOGLE_CLIENT_SECRET)"),
		googleRedirectURL:  fs.String("google-redirect-url", config.GoogleRedirectURL, "OAuth redirect URL (overrides $GOOGLE_REDIRECT_URL)"),
		apiAddr:            fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		timezone:           fs.String("timezone", config.Timezone, "IANA time zone for due dates (overrides $TASKPIPE_TIMEZONE)"),
		sweepSchedule:      fs.String("sweep-schedule", config.SweepSchedule, "cron expression of the pending-state sweeper (overrides $TASKPIPE_SWEEP_SCHEDULE)"),
		pendingMediaTTL:    fs.Duration("pending-media-ttl", config.PendingMediaTTL, "how long an attachment waits for its prompt (overrides $PENDING_MEDIA_TTL)"),
		pendingDeletionTTL: fs.Duration("pending-deletion-ttl", config.PendingDeletionTTL, "how long a deletion list waits for a choice (overrides $PENDING_DELETION_TTL)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"mediaDir", *flags.mediaDir,
		"openaiKeySet", *flags.openaiKey != "",
		"webSearch", *flags.webSearch,
		"validateSignature", *flags.validateSignature,
		"apiAddr", *flags.apiAddr,
		"timezone", *flags.timezone,
		"sweepSchedule", *flags.sweepSchedule)

	// Paths derived from the state directory follow a -state-dir override.
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.mediaDir == filepath.Join(config.StateDir, DefaultMediaDirName) {
			*flags.mediaDir = filepath.Join(*flags.stateDir, DefaultMediaDirName)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if store.DetectDSNType(*flags.dbDSN) != "postgres" && *flags.dbDSN != "" {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if *flags.twilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioAccountSID))
	}
	if *flags.twilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioAuthToken))
	}
	if *flags.twilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFromNumber))
	}
	return opts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithWebSearch(*flags.webSearch),
		genai.WithDebugMode(*flags.genaiDebug),
		genai.WithStateDir(*flags.stateDir),
	}
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildTaskOptions constructs Google Tasks provider options
func buildTaskOptions(flags Flags) []tasks.Option {
	var opts []tasks.Option
	if *flags.googleClientID != "" && *flags.googleClientSecret != "" {
		opts = append(opts, tasks.WithClientCredentials(*flags.googleClientID, *flags.googleClientSecret))
	}
	if *flags.googleRedirectURL != "" {
		opts = append(opts, tasks.WithRedirectURL(*flags.googleRedirectURL))
	}
	return opts
}

// buildMediaOptions constructs media store options
func buildMediaOptions(flags Flags) []media.Option {
	return []media.Option{media.WithDir(*flags.mediaDir)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) ([]api.Option, error) {
	loc, err := time.LoadLocation(*flags.timezone)
	if err != nil {
		return nil, err
	}
	apiOpts := []api.Option{
		api.WithLocation(loc),
		api.WithSignatureValidation(*flags.validateSignature),
		api.WithSweepSchedule(*flags.sweepSchedule),
		api.WithPendingTTLs(*flags.pendingMediaTTL, *flags.pendingDeletionTTL),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.publicBaseURL != "" {
		apiOpts = append(apiOpts, api.WithPublicBaseURL(*flags.publicBaseURL))
	}
	return apiOpts, nil
}
