package ndrruntime

// Memory is the addressable byte space the engine and the generated stubs
// share. Addresses are offsets into it; zero is never a valid allocation.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the size of a Memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out transient scratch regions inside a Memory. Free only
// receives the address, so implementations must recover the size themselves.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr uint32) error
}
