package regs

import "encoding/binary"

var host = Arch{Name: "386", PtrSize: 4, ByteOrder: binary.LittleEndian}
