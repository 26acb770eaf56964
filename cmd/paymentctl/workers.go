package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vpnshop/paycore/internal/pkg/jobqueue"
	"github.com/vpnshop/paycore/internal/pkg/s3backup"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending payments past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			limit, _ := cmd.Flags().GetInt("limit")
			res, err := rt.service.Engine().ExpireOverdue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d overdue payments, expired %d\n", res.Checked, res.Expired)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 500, "Maximum payments per run")
	return cmd
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox messages once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			w := rt.cfg.Workers
			relay := jobqueue.NewOutboxRelay(rt.service.Repository(),
				jobqueue.NewStreamPublisher(rt.redis(), w.OutboxStream, w.OutboxMaxLen), w.OutboxBatchSize)
			n, err := relay.RelayOnce(cmd.Context())
			fmt.Printf("Published %d messages to %s\n", n, w.OutboxStream)
			return err
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Upload processed webhook deliveries to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			if !rt.cfg.Archive.Enabled {
				return fmt.Errorf("archive is disabled (S3_ARCHIVE_ENABLED)")
			}
			client, err := s3backup.NewClient(context.Background(), rt.cfg.Archive, rt.cfg.App.Env)
			if err != nil {
				return err
			}
			archiver := jobqueue.NewDeliveryArchiver(rt.service.Repository(), client, rt.cfg.Archive.Prefix, rt.cfg.Workers.ArchiveOlderThan)
			n, err := archiver.ArchiveOnce(cmd.Context())
			fmt.Printf("Archived %d deliveries\n", n)
			return err
		},
	}
}
