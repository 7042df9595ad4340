// Package loader enumerates the images loaded into a task. A Lister is
// consulted afresh on every query so that images loaded or unloaded between
// two queries are observed.
package loader

// ImageInfo is one loaded image as reported by the dynamic loader.
type ImageInfo struct {
	// Header is the runtime address of the image header.
	Header uint64
	// Slide is the distance between runtime and link-time addresses.
	Slide int64
	Name  string
}

type Lister interface {
	Images() ([]ImageInfo, error)
}

type ListerFunc func() ([]ImageInfo, error)

func (f ListerFunc) Images() ([]ImageInfo, error) {
	return f()
}

// Static reports a fixed image list.
type Static []ImageInfo

func (s Static) Images() ([]ImageInfo, error) {
	return append([]ImageInfo(nil), s...), nil
}
