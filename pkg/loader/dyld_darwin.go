//go:build darwin && cgo

package loader

/*
#include <mach-o/dyld.h>
#include <stdint.h>

static uint64_t bt_image_header(uint32_t i) {
	return (uint64_t)(uintptr_t)_dyld_get_image_header(i);
}
*/
import "C"

// Dyld lists the images of the current process as the dynamic loader
// reports them. Images unloaded while listing show up with a null header
// and are skipped.
type Dyld struct{}

func (Dyld) Images() ([]ImageInfo, error) {
	n := uint32(C._dyld_image_count())
	res := make([]ImageInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		hdr := uint64(C.bt_image_header(C.uint32_t(i)))
		if hdr == 0 {
			continue
		}
		res = append(res, ImageInfo{
			Header: hdr,
			Slide:  int64(C._dyld_get_image_vmaddr_slide(C.uint32_t(i))),
			Name:   C.GoString(C._dyld_get_image_name(C.uint32_t(i))),
		})
	}
	return res, nil
}
