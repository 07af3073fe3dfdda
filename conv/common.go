package conv

import "unsafe"

const ptrSize = int(unsafe.Sizeof(uintptr(0)))
