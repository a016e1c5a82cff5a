// Package uploader drives a local firmware update from the host side.
//
// # Overview
//
// The uploader runs the complete local update sequence over any
// io.ReadWriter, typically a serial port:
//   - Announcing the image with its block count and content hash
//   - Sending each block as an authenticated, encrypted frame
//   - Retrying blocks while the device buffer is full
//   - Finalizing, and resending the image if blocks went missing
//   - Aborting the session on any failure
//
// # Basic Usage
//
//	img, err := firmware.Load("app.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	keys := secure.NewKeyring()
//	keys.Add(1, key)
//
//	up := uploader.New(port, secure.NewCodec(keys, deviceID))
//	err = up.Upload(context.Background(), img, uploader.Target{
//	    SessionID: 0x11223344,
//	    KeyID:     1,
//	})
//
// # Progress Tracking
//
//	up := uploader.New(port, codec,
//	    uploader.WithProgressCallback(func(p uploader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Block %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentBlock, p.TotalBlocks)
//	    }),
//	)
package uploader
