package regs

import "encoding/binary"

var host = Arch{Name: "arm64", PtrSize: 8, HasLR: true, ByteOrder: binary.LittleEndian}
