package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/api"
	"github.com/BTreeMap/TrialConsent/internal/assistant"
	"github.com/BTreeMap/TrialConsent/internal/auth"
	"github.com/BTreeMap/TrialConsent/internal/drafts"
	"github.com/BTreeMap/TrialConsent/internal/genai"
	"github.com/BTreeMap/TrialConsent/internal/lockfile"
	"github.com/BTreeMap/TrialConsent/internal/messaging"
	"github.com/BTreeMap/TrialConsent/internal/metrics"
	"github.com/BTreeMap/TrialConsent/internal/scheduler"
	"github.com/BTreeMap/TrialConsent/internal/store"
	"github.com/BTreeMap/TrialConsent/internal/twiliowhatsapp"
	"github.com/BTreeMap/TrialConsent/internal/util"
	"github.com/BTreeMap/TrialConsent/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TrialConsent state data
	DefaultStateDir = "/var/lib/trialconsent"
	// DefaultAppDBFileName is the default SQLite database for consent records
	DefaultAppDBFileName = "trialconsent.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the WhatsApp device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultNoticePollInterval is how often queued notices are delivered
	DefaultNoticePollInterval = 10 * time.Second
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TrialConsent with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "notify_channel", *flags.notifyChannel)
	if err := run(ctx, flags); err != nil {
		slog.Error("TrialConsent failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TrialConsent exited successfully")
}

// Config holds environment configuration
type Config struct {
	LogLevel          string
	StateDir          string
	DatabaseDSN       string
	WhatsAppDBDSN     string
	APIAddr           string
	OpenAIKey         string
	OpenAIModel       string
	ChatEnabled       bool
	GenAIDebug        bool
	RedisAddr         string
	RedisPassword     string
	JWTSecret         string
	AdminEmail        string
	AdminPasswordHash string
	NotifyChannel     string
	AdminPhone        string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFrom        string
	DigestSchedule    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	waDSN          *string
	apiAddr        *string
	openaiKey      *string
	openaiModel    *string
	chatEnabled    *bool
	genaiDebug     *bool
	redisAddr      *string
	redisPassword  *string
	jwtSecret      *string
	adminEmail     *string
	adminHash      *string
	notifyChannel  *string
	adminPhone     *string
	twilioSID      *string
	twilioToken    *string
	twilioFrom     *string
	digestSchedule *string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
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
		LogLevel:          util.EnvOrDefault("LOG_LEVEL", "debug"),
		StateDir:          os.Getenv("TRIALCONSENT_STATE_DIR"),
		DatabaseDSN:       os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:           os.Getenv("API_ADDR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		ChatEnabled:       util.ParseBoolEnv("OPENAI_CHAT_ENABLED", false),
		GenAIDebug:        util.ParseBoolEnv("GENAI_DEBUG", false),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		NotifyChannel:     util.EnvOrDefault("NOTIFY_CHANNEL", string(messaging.ChannelNone)),
		AdminPhone:        os.Getenv("ADMIN_PHONE"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),
		DigestSchedule:    os.Getenv("DIGEST_SCHEDULE"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TRIALCONSENT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"TRIALCONSENT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_CHAT_ENABLED", config.ChatEnabled,
		"REDIS_ADDR", config.RedisAddr,
		"JWT_SECRET_SET", config.JWTSecret != "",
		"ADMIN_EMAIL", config.AdminEmail,
		"NOTIFY_CHANNEL", config.NotifyChannel,
		"ADMIN_PHONE_SET", config.AdminPhone != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"DIGEST_SCHEDULE", config.DigestSchedule)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	fs := flag.CommandLine
	flags := registerFlags(fs, config)
	flag.Parse()
	applyStateDirOverride(flags, config)
	return flags
}

// registerFlags defines every flag on fs with environment defaults.
func registerFlags(fs *flag.FlagSet, config Config) Flags {
	return Flags{
		qrOutput:       fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:        fs.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:       fs.String("state-dir", config.StateDir, "state directory for TrialConsent data (overrides $TRIALCONSENT_STATE_DIR)"),
		dbDSN:          fs.String("db-dsn", config.DatabaseDSN, "consent record database DSN (overrides $DATABASE_URL)"),
		waDSN:          fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:        fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:      fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key for speech and chat (overrides $OPENAI_API_KEY)"),
		openaiModel:    fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		chatEnabled:    fs.Bool("openai-chat", config.ChatEnabled, "answer unmatched chat messages with OpenAI (overrides $OPENAI_CHAT_ENABLED)"),
		genaiDebug:     fs.Bool("genai-debug", config.GenAIDebug, "write OpenAI requests and responses to the state directory (overrides $GENAI_DEBUG)"),
		redisAddr:      fs.String("redis-addr", config.RedisAddr, "Redis address for form drafts (overrides $REDIS_ADDR)"),
		redisPassword:  fs.String("redis-password", config.RedisPassword, "Redis password (overrides $REDIS_PASSWORD)"),
		jwtSecret:      fs.String("jwt-secret", config.JWTSecret, "token signing secret (overrides $JWT_SECRET)"),
		adminEmail:     fs.String("admin-email", config.AdminEmail, "administrator email (overrides $ADMIN_EMAIL)"),
		adminHash:      fs.String("admin-password-hash", config.AdminPasswordHash, "bcrypt hash of the administrator password (overrides $ADMIN_PASSWORD_HASH)"),
		notifyChannel:  fs.String("notify-channel", config.NotifyChannel, "notification channel: none, sms or whatsapp (overrides $NOTIFY_CHANNEL)"),
		adminPhone:     fs.String("admin-phone", config.AdminPhone, "phone number receiving admin notices (overrides $ADMIN_PHONE)"),
		twilioSID:      fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:    fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:     fs.String("twilio-from", config.TwilioFrom, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)"),
		digestSchedule: fs.String("digest-schedule", config.DigestSchedule, "cron schedule of the pending-review digest (overrides $DIGEST_SCHEDULE)"),
	}
}

// applyStateDirOverride moves default database paths under a -state-dir given on the command line.
func applyStateDirOverride(flags Flags, config Config) {
	if *flags.stateDir == config.StateDir {
		return
	}
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}
	if *flags.waDSN == defaultWhatsAppDSN(config.StateDir) {
		*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
	}
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir, *flags.apiAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	authn, err := auth.NewAuthenticator(buildAuthOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}

	draftStore, redisClient, err := buildDraftStore(ctx, flags)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bridge, speaker := buildAssistant(flags, collector)

	svc, err := buildMessagingService(ctx, flags)
	if err != nil {
		return err
	}
	defer svc.Stop()

	var notifier *messaging.Notifier
	channel, _ := messaging.ParseChannel(*flags.notifyChannel)
	if channel != messaging.ChannelNone {
		notifier = messaging.NewNotifier(st, messaging.WithAdminRecipient(*flags.adminPhone))
	}

	sender := store.NewNoticeSender(st, messaging.Deliver(svc), DefaultNoticePollInterval,
		store.WithOutcomeFunc(collector.RecordNoticeAttempt))
	if err := sender.ReleaseStale(ctx); err != nil {
		slog.Warn("Failed to release stale notice claims", "error", err)
	}
	go sender.Run(ctx)

	apiOpts := buildAPIOptions(flags, draftStore, collector, reg, bridge, speaker)
	if notifier != nil {
		apiOpts = append(apiOpts, api.WithNotifier(notifier))
	}
	server := api.NewServer(st, authn, apiOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := buildMaintenance(flags, st, notifier, server).Register(sched); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	return server.Run(ctx)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == string(store.BackendPostgres) {
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

// buildAuthOptions constructs identity configuration options. Without a
// configured secret a random one is used and tokens do not survive a restart.
func buildAuthOptions(flags Flags) []auth.Option {
	secret := *flags.jwtSecret
	if secret == "" {
		secret = util.GenerateRandomHex(64)
		slog.Warn("No JWT_SECRET set; generated an ephemeral signing secret")
	}
	opts := []auth.Option{auth.WithSecret(secret)}
	if *flags.adminEmail != "" {
		if *flags.adminHash == "" {
			slog.Warn("ADMIN_EMAIL set without ADMIN_PASSWORD_HASH; admin login disabled")
		} else {
			opts = append(opts, auth.WithAdmin(*flags.adminEmail, *flags.adminHash))
		}
	}
	return opts
}

// buildDraftStore uses Redis when configured and falls back to memory.
func buildDraftStore(ctx context.Context, flags Flags) (drafts.Store, *redis.Client, error) {
	if *flags.redisAddr == "" {
		slog.Debug("No REDIS_ADDR set, keeping form drafts in memory")
		return drafts.NewMemoryStore(), nil, nil
	}
	client, err := drafts.Connect(ctx, *flags.redisAddr, *flags.redisPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return drafts.NewRedisStore(client, ""), client, nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return genaiOpts
}

// buildAssistant creates the chat bridge and speaker. Speech synthesis uses
// OpenAI whenever a key is configured; remote chat answers also need -openai-chat.
func buildAssistant(flags Flags, collector *metrics.Collector) (*assistant.Bridge, *assistant.Speaker) {
	bridgeOpts := []assistant.Option{assistant.WithMetrics(collector)}
	speakerOpts := []assistant.SpeakerOption{assistant.WithSpeechMetrics(collector)}

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		if !errors.Is(err, genai.ErrNoAPIKey) {
			slog.Warn("GenAI client unavailable", "error", err)
		}
		slog.Info("No OpenAI client; speech uses on-device synthesis and chat uses local rules")
		return assistant.NewBridge(bridgeOpts...), assistant.NewSpeaker(nil, speakerOpts...)
	}
	if *flags.chatEnabled {
		bridgeOpts = append(bridgeOpts, assistant.WithRemote(client))
	}
	return assistant.NewBridge(bridgeOpts...), assistant.NewSpeaker(client, speakerOpts...)
}

// buildMessagingService selects the notification transport. WhatsApp goes
// through Twilio when Twilio credentials are set, otherwise through a linked
// WhatsApp device.
func buildMessagingService(ctx context.Context, flags Flags) (messaging.Service, error) {
	channel, err := messaging.ParseChannel(*flags.notifyChannel)
	if err != nil {
		return nil, err
	}
	switch channel {
	case messaging.ChannelSMS:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags, twiliowhatsapp.ChannelSMS)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case messaging.ChannelWhatsApp:
		if *flags.twilioSID != "" {
			client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags, twiliowhatsapp.ChannelWhatsApp)...)
			if err != nil {
				return nil, fmt.Errorf("failed to create Twilio WhatsApp client: %w", err)
			}
			return messaging.NewTwilioService(client), nil
		}
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	}
	return messaging.NewLogService(), nil
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(flags Flags, ch twiliowhatsapp.Channel) []twiliowhatsapp.Option {
	opts := []twiliowhatsapp.Option{twiliowhatsapp.WithChannel(ch)}
	if *flags.twilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFrom(*flags.twilioFrom))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildMaintenance configures the digest, purge and idle eviction jobs.
// The digest is only scheduled when notifications are enabled.
func buildMaintenance(flags Flags, st store.Store, notifier *messaging.Notifier, evicter scheduler.IdleEvicter) *scheduler.Maintenance {
	var opts []scheduler.Option
	if s := strings.TrimSpace(*flags.digestSchedule); s != "" {
		opts = append(opts, scheduler.WithDigestSchedule(s))
	}
	if evicter != nil {
		opts = append(opts, scheduler.WithIdleEviction(evicter, scheduler.DefaultIdleTimeout))
	}
	if notifier == nil {
		return scheduler.NewMaintenance(st, st, nil, opts...)
	}
	return scheduler.NewMaintenance(st, st, notifier, opts...)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, d drafts.Store, collector *metrics.Collector, reg *prometheus.Registry, bridge *assistant.Bridge, speaker *assistant.Speaker) []api.Option {
	apiOpts := []api.Option{
		api.WithDrafts(d),
		api.WithMetrics(collector, reg),
		api.WithBridge(bridge),
		api.WithSpeaker(speaker),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
