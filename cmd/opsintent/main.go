package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/opsintent/internal/profile"
	"github.com/hrygo/opsintent/internal/version"
	"github.com/hrygo/opsintent/service"
)

var rootCmd = &cobra.Command{
	Use:   "opsintent",
	Short: `Tiered intent classification and guided dialog for IT service requests.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as
		// a systemd service, which carries its own environment).
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		core, err := service.New(ctx, instanceProfile)
		if err != nil {
			slog.Error("failed to assemble pipeline", "error", err)
			return
		}
		go core.Warmup(ctx)

		mux := http.NewServeMux()
		mux.Handle("/metrics", core.MetricsHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", instanceProfile.Addr, instanceProfile.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		term := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal of most process managers
		// (systemd, kubernetes).
		signal.Notify(term, terminationSignals...)

		reload := make(chan os.Signal, 1)
		if len(reloadSignals) > 0 {
			signal.Notify(reload, reloadSignals...)
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
				cancel()
			}
		}()

		printGreetings(instanceProfile)

		for {
			select {
			case <-reload:
				if err := core.Reload(ctx); err != nil {
					slog.Error("rules reload failed, keeping previous rules", "error", err)
				}
			case <-term:
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
				_ = srv.Shutdown(shutdownCtx)
				if err := core.Shutdown(shutdownCtx); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
				shutdownCancel()
				return
			case <-ctx.Done():
				return
			}
		}
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "memory")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "memory", "checkpoint driver (memory, file, sqlite, postgres, redis)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("opsintent")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("opsintent %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Checkpoint driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if len(profile.Addr) == 0 {
		fmt.Printf("Metrics on http://localhost:%d/metrics\n", profile.Port)
	} else {
		fmt.Printf("Metrics on http://%s:%d/metrics\n", profile.Addr, profile.Port)
	}
	if !profile.IsLLMEnabled() {
		fmt.Fprintln(os.Stderr, "Note: OPSINTENT_LLM_API_KEY is not set, the LLM tier is disabled")
	}
	if !profile.IsSemanticEnabled() {
		fmt.Fprintln(os.Stderr, "Note: OPSINTENT_EMBEDDING_API_KEY is not set, the semantic tier is disabled")
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
