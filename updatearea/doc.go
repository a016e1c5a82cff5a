// Package updatearea manages the flash partition that receives a new
// firmware image while the application runs.
//
// The Manager learns the update area geometry from the exchange record
// published by the bootstrap, erases and programs it block by block, checks
// completeness and content hash, and finally writes the image header and the
// boot request. Headers are always written last, so an interrupted transfer
// never leaves a bootable image behind.
//
// Basic usage:
//
//	area := updatearea.New(mem, store, updatearea.WithLogger(logging.Glog{}))
//	if _, err := area.Setup(); err != nil {
//	    return err
//	}
//	if err := area.Initialize(updatearea.KindLocal, blockCount); err != nil {
//	    return err
//	}
//	for id, block := range blocks {
//	    if err := area.Proceed(updatearea.KindLocal, uint16(id+1), block); err != nil {
//	        return err
//	    }
//	}
//	status, err := area.Finalize(updatearea.KindLocal, hash, imageSize)
package updatearea
