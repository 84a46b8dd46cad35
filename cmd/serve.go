package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantfabric/refcheck/pkg/engine"
	"github.com/quantfabric/refcheck/pkg/instrument"
	"github.com/quantfabric/refcheck/pkg/loader"
	"github.com/quantfabric/refcheck/pkg/report"
	"github.com/quantfabric/refcheck/pkg/rules"
	"github.com/quantfabric/refcheck/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation HTTP service",
	Long: `Start the HTTP service that validates instrument reference data on
demand and answers instrument lookup and rule catalog queries.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	serveCmd.Flags().Bool("warm-up", true, "preload datasets before serving")

	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("warm-up", serveCmd.Flags().Lookup("warm-up"))
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := viper.GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	data, err := loader.New(cfg.DataLoader, cfg.Cache)
	if err != nil {
		return err
	}
	defer data.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("warm-up") {
		if csv, ok := data.(*loader.CSVLoader); ok {
			csv.WarmUp(ctx, cfg.Products())
		}
	}

	svc := engine.NewService(rules.NewLoader(cfg.Rules.Dir), data)

	var persister *report.Persister
	if dsn := cfg.Generator.ResultsDSN; dsn != "" {
		db, err := sqlx.Open("postgres", dsn)
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(cfg.DataLoader.Database.MaxOpenConns + cfg.DataLoader.Database.MaxOverflowConns)
		db.SetConnMaxLifetime(time.Duration(cfg.DataLoader.Database.ConnMaxLifetimeSec) * time.Second)
		defer db.Close()
		persister = report.NewPersister(db)
		slog.Info("run persistence enabled")
	}

	srv := server.New(cfg, svc, instrument.New(data), persister)
	return srv.Start(ctx)
}
