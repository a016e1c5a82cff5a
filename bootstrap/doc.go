// Package bootstrap implements the boot-time half of the update protocol: it
// decides which image to start, copies a freshly downloaded image into the
// active partition when asked to, and publishes the exchange record the
// application reads after start.
//
// # Partition Selection
//
// Select is a pure function of the boot request and the three partition
// headers. It returns one of three actions:
//
//   - ActionRun: start the image in Decision.Source directly
//   - ActionSwap: copy Decision.Source into Decision.Destination, then start it
//   - ActionLocal: hand off to the local update path for Decision.Destination
//
// Selection is re-run on every boot and never cached.
//
// # Boot Sequence
//
//	mem := flash.NewMemory(flash.ReferenceGeometry())
//	boot := bootstrap.New(mem, store,
//	    bootstrap.WithLogger(logging.Glog{}),
//	    bootstrap.WithLocalLoader(loader),
//	)
//
//	res, err := boot.Boot(ctx)
//	if err != nil {
//	    // err is a trace of what went wrong (failed swap, record write);
//	    // res still names the image to run
//	}
//	jump(res.Run)
//
// # Failure Handling
//
// The bootstrap has no recovery path of its own, so it never halts. A record
// with a bad CRC is replaced by safe defaults; a failed swap is reported and
// the device falls back to the active image if it is still valid, or to the
// local update path otherwise. A failed swap is not retried within the same
// boot cycle; since the swap request is only cleared after a successful swap,
// the next power cycle tries again.
package bootstrap
