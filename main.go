package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/travelhub/travelhub/config"
	"github.com/travelhub/travelhub/realtime"
	"github.com/travelhub/travelhub/routes"
	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

const uploadCleanInterval = 5 * time.Minute

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:           "travelhub",
		Short:         "Travel places, favorites and chat API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port != "" {
				cfg.AppPort = port
				cfg = config.Override(cfg)
			}
			// Initialize logger early
			return utils.InitLogger(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	cmd.PersistentFlags().StringVarP(&port, "port", "p", "", "Listen port (overrides APP_PORT)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := config.OpenDatabase(config.Get())
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			if err := config.Migrate(conn); err != nil {
				return err
			}
			utils.Sugar.Info("migration finished")
			return nil
		},
	})
	return cmd
}

func serve() error {
	defer func() { _ = utils.Logger.Sync() }()
	cfg := config.Get()
	db := config.InitDatabase()

	store, err := storage.New(db, storage.Options{
		Root:         cfg.StorageRoot,
		PublicBase:   cfg.StoragePublicBase,
		MaxSize:      int64(cfg.UploadMaxSizeMB) << 20,
		UnclaimedTTL: time.Duration(cfg.UploadTTLMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	broker, err := realtime.NewBroker(cfg)
	if err != nil {
		return fmt.Errorf("init chat broker: %w", err)
	}
	hub := realtime.NewHub(broker, originChecker(cfg.AllowedOrigins))

	// Start background cleanup for expired uploads (best-effort)
	bg, stop := context.WithCancel(context.Background())
	defer stop()
	store.StartCleaner(bg, uploadCleanInterval)

	r := routes.SetupRouter(db, store, hub)

	srv := utils.NewGraceServer(":"+cfg.AppPort, r)
	srv.OnShutdown(func(ctx context.Context) {
		stop()
		if err := hub.Close(ctx); err != nil {
			utils.Sugar.Warnf("close chat hub: %v", err)
		}
		if err := utils.CloseRedis(); err != nil {
			utils.Sugar.Warnf("close redis: %v", err)
		}
	})

	utils.Sugar.Infof("Starting server on port %s (graceful), chat broker %s", cfg.AppPort, cfg.ChatBroker)
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// originChecker restricts websocket upgrades to the CORS origins unless they are "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSpace(o), origin) {
				return true
			}
		}
		return false
	}
}
