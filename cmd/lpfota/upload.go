package main

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/moffa90/go-lpfota/firmware"
	"github.com/moffa90/go-lpfota/logging"
	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/secure"
	"github.com/moffa90/go-lpfota/uploader"
	"github.com/spf13/cobra"
	"github.com/tarm/serial"
)

var (
	uploadConfigPath  string
	uploadPort        string
	uploadSessionID   uint32
	uploadSWTarget    uint16
	uploadKeyID       uint8
	uploadWindowStart uint32
	uploadWindowMin   uint16
	uploadRetries     int

	uploadCmd = &cobra.Command{
		Use:          "upload IMAGE",
		Short:        "Uploads a firmware image over the local serial channel.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDeviceConfig(uploadConfigPath)
			if err != nil {
				return err
			}
			if uploadPort != "" {
				cfg.Port = uploadPort
			}

			img, err := firmware.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load image %q: %w", args[0], err)
			}

			keys, err := cfg.keyring()
			if err != nil {
				return err
			}
			if uploadKeyID != 0 && !keys.Has(uploadKeyID) {
				return fmt.Errorf("key %d is not configured in %s", uploadKeyID, uploadConfigPath)
			}

			port, err := serial.OpenPort(&serial.Config{
				Name:        cfg.Port,
				Baud:        cfg.Baud,
				ReadTimeout: cfg.ReadTimeout,
			})
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", cfg.Port, err)
			}
			defer func() { _ = port.Close() }()

			sessionID := uploadSessionID
			if sessionID == 0 {
				sessionID = uint32(time.Now().Unix())
			}

			up := uploader.New(port, secure.NewCodec(keys, cfg.DeviceID),
				uploader.WithLogger(logging.Glog{}),
				uploader.WithRetries(uploadRetries),
				uploader.WithProgressCallback(func(p uploader.Progress) {
					if glog.V(1) {
						glog.Infof("[%s] %.1f%% block %d/%d", p.Phase, p.Percentage, p.CurrentBlock, p.TotalBlocks)
					}
				}),
			)

			err = up.Upload(cmd.Context(), img, uploader.Target{
				SessionID:       sessionID,
				SWInitial:       cfg.SWInitial,
				SWTarget:        uploadSWTarget,
				NetworkID:       cfg.NetworkID,
				HardwareVersion: cfg.HardwareVersion,
				Schedule:        protocol.Schedule{Start: uploadWindowStart, Duration: uploadWindowMin},
				KeyID:           uploadKeyID,
			})
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			fmt.Printf("uploaded %d bytes in %d blocks, session 0x%08X, hash 0x%08X\n",
				img.Size(), img.BlockCount(firmware.BlockSize), sessionID, img.Hash(firmware.BlockSize))
			return nil
		},
	}
)

func init() {
	uploadCmd.Flags().StringVar(
		&uploadConfigPath,
		"config",
		"device.ini",
		"Path to the device INI file (port, device id, keys, update defaults).",
	)
	uploadCmd.Flags().StringVar(
		&uploadPort,
		"port",
		"",
		"Serial port, overrides [device] port.",
	)
	uploadCmd.Flags().Uint32Var(
		&uploadSessionID,
		"session",
		0,
		"Session id. Leave unset to derive one from the current time.",
	)
	uploadCmd.Flags().Uint16Var(
		&uploadSWTarget,
		"sw_target",
		0,
		"Software version the image carries.",
	)
	uploadCmd.Flags().Uint8Var(
		&uploadKeyID,
		"key",
		1,
		"Key id protecting the blocks. 0 sends them in clear.",
	)
	uploadCmd.Flags().Uint32Var(
		&uploadWindowStart,
		"window_start",
		0,
		"Start of the update window in Unix seconds. 0 means no window.",
	)
	uploadCmd.Flags().Uint16Var(
		&uploadWindowMin,
		"window_minutes",
		0,
		"Length of the update window in minutes.",
	)
	uploadCmd.Flags().IntVar(
		&uploadRetries,
		"retries",
		3,
		"Retry attempts for busy blocks and resends after missing blocks.",
	)

	rootCmd.AddCommand(uploadCmd)
}
