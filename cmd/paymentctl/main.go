package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/cache"
	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/database"
	"github.com/vpnshop/paycore/internal/pkg/env"
	"github.com/vpnshop/paycore/internal/pkg/gateway"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tool for the payment core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(issuesCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(archiveCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(clientsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtime holds what every subcommand connects to.
type runtime struct {
	cfg     *config.Config
	db      *gorm.DB
	repos   *repository.Factory
	service *billing.Service
	rdb     *redis.Client
}

func bootstrap() (*runtime, error) {
	env.SetupEnvFile()
	log.SetLevel(log.LevelWarn)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := database.SetupDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	registry, err := gateway.FromConfig(cfg.Providers, gateway.Deps{})
	if err != nil {
		return nil, fmt.Errorf("gateways: %w", err)
	}
	return &runtime{
		cfg:     cfg,
		db:      db,
		repos:   repository.NewFactory(db),
		service: billing.NewServiceFromDB(db, registry, cfg.Billing),
	}, nil
}

// redis connects lazily; only relay and stats need it.
func (r *runtime) redis() *redis.Client {
	if r.rdb == nil {
		r.rdb = cache.SetupCache(r.cfg.Cache)
	}
	return r.rdb
}

func (r *runtime) close() {
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
