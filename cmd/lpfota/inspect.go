package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/firmware"
	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
	"github.com/spf13/cobra"
)

var (
	inspectFlashPath  string
	inspectRecordPath string

	inspectCmd = &cobra.Command{
		Use:          "inspect",
		Short:        "Decodes the exchange record and partition headers of a flash dump.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), inspectFlashPath, inspectRecordPath)
		},
	}

	hashCmd = &cobra.Command{
		Use:          "hash IMAGE",
		Short:        "Prints the block count and content hash an upload of IMAGE announces.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := firmware.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load image %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "size %d, blocks %d, hash 0x%08X\n",
				img.Size(), img.BlockCount(firmware.BlockSize), img.Hash(firmware.BlockSize))
			return nil
		},
	}
)

func init() {
	inspectCmd.Flags().StringVar(
		&inspectFlashPath,
		"flash",
		"",
		"Path to the flash bank dump. Leave unset to skip the headers.",
	)
	inspectCmd.Flags().StringVar(
		&inspectRecordPath,
		"record",
		"",
		"Path to the exchange record dump. Leave unset to skip the record.",
	)

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(hashCmd)
}

func inspect(w io.Writer, flashPath, recordPath string) error {
	if flashPath == "" && recordPath == "" {
		return fmt.Errorf("nothing to inspect: set --flash and/or --record")
	}

	if recordPath != "" {
		rec, ok, err := exchange.Read(&exchange.FileStore{Path: recordPath})
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(w, "record: invalid (CRC mismatch or wrong size)")
		} else {
			fmt.Fprintf(w, "record: request=%s magic=0x%08X src=0x%08X+%d dest=0x%08X+%d header_size=%d\n",
				rec.Request, rec.Magic, rec.SrcAddr, rec.SrcSize, rec.DestAddr, rec.DestSize, rec.HeaderSize)
		}
	}

	if flashPath != "" {
		mem, err := loadFlash(flashPath)
		if err != nil {
			return err
		}
		layout := partition.ReferenceLayout()
		headers := partition.ReadHeaders(mem, layout)
		for role, h := range headers {
			p := layout.Get(partition.Role(role))
			switch {
			case h == nil:
				fmt.Fprintf(w, "%s: unreadable\n", p)
			case !h.Valid():
				fmt.Fprintf(w, "%s: no valid image\n", p)
			default:
				fmt.Fprintf(w, "%s: %s\n", p, h)
			}
		}
	}
	return nil
}

// loadFlash reads a bank dump into a simulated reference bank.
func loadFlash(path string) (*flash.Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read flash dump: %w", err)
	}
	mem := flash.NewMemory(flash.ReferenceGeometry())
	if _, err := mem.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return mem, nil
}
