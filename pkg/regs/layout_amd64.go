package regs

import "encoding/binary"

var host = Arch{Name: "amd64", PtrSize: 8, ByteOrder: binary.LittleEndian}
