// Package session runs the update session state machine.
//
// At most one update is pending at any time. The pending kind is one of
// none, internal, external, local or forbidden:
//
//	none ──Open──▶ internal | external | local ──Finalize/Close──▶ none
//	any  ──flash failure──▶ forbidden (until restart)
//
// A second Open while an update is pending is rejected immediately. Open,
// Finalize and Close hand their flash and download work to a worker
// goroutine and wait for its acknowledgement with a bounded timeout.
//
// Basic usage:
//
//	s := session.New(area, session.WithValidator(policy), session.WithLogger(logging.Glog{}))
//	defer s.Shutdown()
//	if err := s.Init(); err != nil {
//	    return err // the device refuses updates until restart
//	}
//	if err := s.Open(ctx, info); err != nil {
//	    return err
//	}
//	for id, block := range blocks {
//	    if err := s.Store(uint16(id+1), block); err != nil {
//	        return err
//	    }
//	}
//	status, err := s.Finalize(ctx)
package session
