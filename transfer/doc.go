// Package transfer receives local updates over a wired command channel.
//
// Interface decodes command frames (see package protocol), authenticates
// and decrypts block frames, and queues the blocks in a small Buffer. A
// consumer goroutine started with Run drains the Buffer into the update
// session, so reception never waits on flash.
//
//	iface := transfer.New(sess, codec, transfer.WithLogger(logging.Glog{}))
//	go iface.Run(ctx)
//	err := iface.Serve(ctx, port)
package transfer
