package cmd

import (
	"context"
	"fmt"
	"github.com/Gibstick/pin-archive-3/pinarchive"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = pinarchive.DefaultConfig()
	configFile string
)

// logLevelKeys are the config keys holding a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"api.log_level",
}

var rootCmd = &cobra.Command{
	Use:   "pin-archive [flags]",
	Short: "Discord bot which pins popular messages and archives pins to a channel",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// mapstructure decodes slices into existing ones element-wise
		cfg = pinarchive.DefaultConfig()
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(" "),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes log level names ("DEBUG", "warn", ...)
// into *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	// values set by a previous run would shadow the environment
	viper.Reset()

	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		log.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", pinarchive.DefaultDatabase)
	viper.SetDefault("database_type", pinarchive.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		pinarchive.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		pinarchive.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("log_level", pinarchive.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", pinarchive.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", pinarchive.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		pinarchive.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		pinarchive.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		int(pinarchive.DefaultDiscordGatewayIntent),
	)
	viper.SetDefault(
		"discord.register_commands",
		pinarchive.DefaultDiscordRegisterCommands,
	)

	// Redis archive lock
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.username", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.lock_ttl", pinarchive.DefaultRedisLockTTL)

	// API config
	viper.SetDefault("api.enabled", pinarchive.DefaultAPIEnabled)
	viper.SetDefault("api.pprof", pinarchive.DefaultAPIPprof)
	viper.SetDefault("api.listen", pinarchive.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", pinarchive.DefaultAPILogLevel.String())
	viper.SetDefault(
		"api.requests_per_second",
		pinarchive.DefaultAPIRequestsPerSecond,
	)
	viper.SetDefault("api.read_timeout", pinarchive.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		pinarchive.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", pinarchive.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", pinarchive.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		pinarchive.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		pinarchive.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		pinarchive.DefaultCORSExposeHeaders,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", pinarchive.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		pinarchive.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(pinarchive.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = pinarchive.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range logLevelKeys {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load config from",
	)
}
