package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/moffa90/go-lpfota/bootstrap"
	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/logging"
	"github.com/spf13/cobra"
)

var (
	bootFlashPath  string
	bootRecordPath string
	bootDryRun     bool

	bootCmd = &cobra.Command{
		Use:          "boot",
		Short:        "Runs one bootstrap cycle on a flash dump and its exchange record.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), bootFlashPath, bootRecordPath, bootDryRun)
		},
	}
)

func init() {
	bootCmd.Flags().StringVar(
		&bootFlashPath,
		"flash",
		"flash.bin",
		"Path to the flash bank dump.",
	)
	bootCmd.Flags().StringVar(
		&bootRecordPath,
		"record",
		"record.bin",
		"Path to the exchange record dump. A missing file reads as an invalid record.",
	)
	bootCmd.Flags().BoolVar(
		&bootDryRun,
		"dry_run",
		false,
		"Leave both dumps untouched.",
	)

	rootCmd.AddCommand(bootCmd)
}

func boot(ctx context.Context, out, errOut io.Writer, flashPath, recordPath string, dryRun bool) error {
	mem, err := loadFlash(flashPath)
	if err != nil {
		return err
	}

	var store exchange.Store = &exchange.FileStore{Path: recordPath}
	if dryRun {
		buf, err := store.Load()
		if err != nil {
			return err
		}
		ms := exchange.NewMemoryStore()
		if err := ms.Save(buf); err != nil {
			// The store stays zeroed and reads as an invalid record.
			fmt.Fprintf(errOut, "record ignored: %v\n", err)
		}
		store = ms
	}

	res, err := bootstrap.New(mem, store, bootstrap.WithLogger(logging.Glog{})).Boot(ctx)
	printResult(out, res)
	if err != nil {
		fmt.Fprintf(errOut, "boot trace: %v\n", err)
	}

	if dryRun {
		return nil
	}
	var buf bytes.Buffer
	if _, err := mem.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to dump flash: %w", err)
	}
	if err := os.WriteFile(flashPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write flash dump: %w", err)
	}
	return nil
}

func printResult(w io.Writer, res *bootstrap.Result) {
	fmt.Fprintf(w, "request:  %s (record valid: %v)\n", res.Request, res.RecordValid)
	fmt.Fprintf(w, "decision: %s\n", res.Decision)
	fmt.Fprintf(w, "swapped:  %v\n", res.Swapped)
	fmt.Fprintf(w, "run:      %s\n", res.Run)
	fmt.Fprintf(w, "update:   %s\n", res.Update)
	if r := res.Record; r != nil {
		fmt.Fprintf(w, "record:   request=%s src=0x%08X dest=0x%08X\n", r.Request, r.SrcAddr, r.DestAddr)
	}
}
