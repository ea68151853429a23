package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voightkampff/vk/internal/metrics"
	"github.com/voightkampff/vk/internal/server"
	"github.com/voightkampff/vk/internal/service"
	"github.com/voightkampff/vk/internal/session"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the verification server",
		Long:  "Start the HTTP server the reverse proxy forwards auth requests to.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	if dev {
		viper.Set("log.level", "debug")
	}
	logger := newLogger()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer st.Close()
	logger.Info("credential store ready", "driver", viper.GetString("store.driver"))

	sessions, err := newSessionStore()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	secret := viper.GetString("sessions.secret")
	if secret == "" {
		// An ephemeral secret keeps dev setups working; issued sessions die
		// with the process.
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		secret = hex.EncodeToString(raw)
		logger.Warn("sessions.secret not set, using an ephemeral secret; sessions will not survive restarts")
	}

	sessionSvc := service.NewSessionService(st, sessions, service.SessionConfig{
		Secret:      secret,
		IdleTTL:     viper.GetDuration("sessions.idle_ttl"),
		MaxLifetime: viper.GetDuration("sessions.max_lifetime"),
	}, logger)

	authSvc := service.NewAuthService(st, sessionSvc, viper.GetDuration("auth.lookup_timeout"), logger)
	keySvc := service.NewKeyService(st, logger)

	hasAdmin, err := st.HasAnyAdmin(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin accounts", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - session login is unusable until one exists; run: vk admin create")
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if rate := viper.GetInt("server.login_rate_per_minute"); rate > 0 {
		srvCfg.LoginRatePerMinute = rate
	}
	srvCfg.SecureCookies = viper.GetBool("server.secure_cookies")
	srvCfg.AdminServices = viper.GetStringSlice("auth.admin_services")
	srvCfg.ServiceHeader = viper.GetString("auth.service_header")
	srvCfg.ProtectManagement = viper.GetBool("auth.protect_management")
	if t := viper.GetDuration("server.shutdown_timeout"); t > 0 {
		srvCfg.ShutdownTimeout = t
	}

	srv := server.New(srvCfg, st, sessions, authSvc, keySvc, sessionSvc, metrics.New(), logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Verify:   http://%s:%d/verify\n", host, port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

func newSessionStore() (session.Store, error) {
	switch backend := viper.GetString("sessions.backend"); backend {
	case "", "memory":
		return session.NewMemory(), nil
	case "redis":
		return session.NewRedis(session.RedisConfig{
			Addr:     viper.GetString("sessions.redis.addr"),
			Password: viper.GetString("sessions.redis.password"),
			DB:       viper.GetInt("sessions.redis.db"),
		})
	default:
		return nil, fmt.Errorf("unsupported sessions backend %q", backend)
	}
}

