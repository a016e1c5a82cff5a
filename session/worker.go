package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-lpfota/updatearea"
)

type operation int

const (
	opStart operation = iota
	opFinalize
	opStop
)

var operationNames = map[operation]string{
	opStart:    "start",
	opFinalize: "finalize",
	opStop:     "stop",
}

type job struct {
	op    operation
	info  AnnounceInfo
	ctx   context.Context
	reply chan result
}

type result struct {
	status updatearea.Status
	err    error
}

// kindHooks tells the worker what an update kind involves.
type kindHooks struct {
	// touchesArea is set when the image is stored in the update area
	touchesArea bool

	// remote is set when a radio download session delivers the image
	remote bool
}

var hooks = map[updatearea.Kind]kindHooks{
	updatearea.KindInternal: {touchesArea: true, remote: true},
	updatearea.KindExternal: {touchesArea: false, remote: true},
	updatearea.KindLocal:    {touchesArea: true, remote: false},
}

var errNoDownloader = errors.New("no downloader configured")

// submit hands a job to the worker and waits for its result, at most
// AckTimeout.
func (s *Session) submit(ctx context.Context, op operation, info AnnounceInfo) (updatearea.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.AckTimeout)
	defer cancel()

	j := job{op: op, info: info, ctx: ctx, reply: make(chan result, 1)}

	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return updatearea.StatusUnknown, fmt.Errorf("%s: %w: %w", operationNames[op], ErrTimeout, ctx.Err())
	case <-s.ctx.Done():
		return updatearea.StatusUnknown, ErrClosed
	}

	select {
	case r := <-j.reply:
		return r.status, r.err
	case <-ctx.Done():
		return updatearea.StatusUnknown, fmt.Errorf("%s: %w: %w", operationNames[op], ErrTimeout, ctx.Err())
	case <-s.ctx.Done():
		return updatearea.StatusUnknown, ErrClosed
	}
}

// run executes jobs one at a time until Shutdown.
func (s *Session) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-s.jobs:
			s.logDebug("worker job", "op", operationNames[j.op], "kind", j.info.Type.String())
			j.reply <- s.execute(j)
		}
	}
}

func (s *Session) execute(j job) result {
	h := hooks[j.info.Type]

	switch j.op {
	case opStart:
		if h.touchesArea {
			if err := s.area.Initialize(j.info.Type, int(j.info.BlockCount)); err != nil {
				return result{err: err}
			}
		}
		if h.remote {
			if s.config.Downloader == nil {
				s.abortArea(h)
				return result{err: errNoDownloader}
			}
			if err := s.config.Downloader.Start(j.ctx, j.info); err != nil {
				s.abortArea(h)
				return result{err: fmt.Errorf("start download: %w", err)}
			}
		}
		return result{status: updatearea.StatusInProgress}

	case opFinalize:
		if !h.touchesArea {
			return result{status: updatearea.StatusInProgress}
		}
		status, err := s.area.Finalize(j.info.Type, j.info.Hash, j.info.ImageSize)
		return result{status: status, err: err}

	case opStop:
		var err error
		if h.remote && s.config.Downloader != nil {
			err = s.config.Downloader.Abort(j.ctx)
		}
		s.abortArea(h)
		return result{err: err}
	}
	return result{err: fmt.Errorf("unknown operation %d", j.op)}
}

func (s *Session) abortArea(h kindHooks) {
	if h.touchesArea {
		s.area.Abort()
	}
}
