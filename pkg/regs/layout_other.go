//go:build !amd64 && !arm64 && !386 && !arm

package regs

import (
	"encoding/binary"
	"runtime"
	"strconv"
)

// Frame records are assumed to be {fp, ret} pairs; register capture is not
// available on these architectures.
var host = Arch{Name: runtime.GOARCH, PtrSize: strconv.IntSize / 8, ByteOrder: binary.NativeEndian}
