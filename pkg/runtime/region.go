package runtime

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// regionSize is the fixed wire size of a Region descriptor: three
// little-endian uint32 fields.
const regionSize = 12

// Region is a guest-side descriptor pointing at a byte buffer in the guest's
// linear memory. Offsets are guest addresses; lengths are in bytes.
type Region struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
}

// readRegion reads a Region descriptor struct from guest memory at ptr.
func readRegion(mem api.Memory, ptr uint32) (Region, error) {
	if ptr == 0 {
		return Region{}, fmt.Errorf("%w: region pointer is zero", ErrDerefErr)
	}
	raw, ok := mem.Read(ptr, regionSize)
	if !ok {
		return Region{}, fmt.Errorf("%w: cannot read region descriptor at %d", ErrDerefErr, ptr)
	}
	return Region{
		Offset:   binary.LittleEndian.Uint32(raw[0:4]),
		Capacity: binary.LittleEndian.Uint32(raw[4:8]),
		Length:   binary.LittleEndian.Uint32(raw[8:12]),
	}, nil
}

// writeRegionDescriptor writes the Region struct itself (not its payload)
// back to guest memory at ptr.
func writeRegionDescriptor(mem api.Memory, ptr uint32, r Region) error {
	var raw [regionSize]byte
	binary.LittleEndian.PutUint32(raw[0:4], r.Offset)
	binary.LittleEndian.PutUint32(raw[4:8], r.Capacity)
	binary.LittleEndian.PutUint32(raw[8:12], r.Length)
	if !mem.Write(ptr, raw[:]) {
		return fmt.Errorf("%w: cannot write region descriptor at %d", ErrDerefErr, ptr)
	}
	return nil
}

// bridge mediates all data transfer between host and guest through the
// guest's allocate/deallocate exports and Region descriptors.
type bridge struct {
	mod api.Module
}

func newBridge(mod api.Module) *bridge {
	return &bridge{mod: mod}
}

func (b *bridge) memory() (api.Memory, error) {
	mem := b.mod.Memory()
	if mem == nil {
		return nil, ErrNoMemory
	}
	return mem, nil
}

// allocate calls the guest's allocate(size) export and returns the
// resulting region pointer. A zero pointer is a protocol violation.
func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	allocateFn := b.mod.ExportedFunction("allocate")
	if allocateFn == nil {
		return 0, fmt.Errorf("%w: guest does not export allocate", ErrDerefErr)
	}
	results, err := allocateFn.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, ErrZeroAddress
	}
	return ptr, nil
}

// deallocate calls the guest's deallocate(ptr) export. Every allocate must
// be paired with exactly one deallocate, on both success and error paths.
func (b *bridge) deallocate(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	deallocateFn := b.mod.ExportedFunction("deallocate")
	if deallocateFn == nil {
		return fmt.Errorf("%w: guest does not export deallocate", ErrDerefErr)
	}
	_, err := deallocateFn.Call(ctx, uint64(ptr))
	return err
}

// buildRegion calls the guest's allocate(size) export — which itself
// returns a pointer to a fully-formed Region descriptor with Capacity
// preset to size — then writes data into it via writeRegion. This is the
// host-side construction path used whenever the host needs to hand the
// guest a buffer it didn't already have a region for (a read() response, or
// a host-constructed error payload).
func (b *bridge) buildRegion(ctx context.Context, data []byte) (ptr uint32, err error) {
	ptr, err = b.allocate(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := b.writeRegion(ptr, data); err != nil {
		_ = b.deallocate(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}

// consumeRegion reads the Region descriptor at ptr, reads its payload bytes,
// and frees both the descriptor and its payload allocation.
func (b *bridge) consumeRegion(ctx context.Context, ptr uint32) ([]byte, error) {
	mem, err := b.memory()
	if err != nil {
		return nil, err
	}
	r, err := readRegion(mem, ptr)
	if err != nil {
		return nil, err
	}
	data, err := b.readRegionPayload(mem, r, MaxResultBytes)
	if err != nil {
		return nil, err
	}
	// The guest's own deallocate(ptr) is responsible for freeing both the
	// Region descriptor and the payload bytes it describes (it reconstructs
	// its native buffer from Offset/Capacity before dropping it) — a single
	// call suffices, mirroring the pairing of a single allocate(size) call in
	// buildRegion.
	_ = b.deallocate(ctx, ptr)
	return data, nil
}

// readRegion copies up to maxLength bytes described by the Region at ptr,
// without freeing anything. Fails with ErrRegionLengthTooBig if the
// descriptor's length exceeds maxLength, or ErrDerefErr if the bounds are
// invalid.
func (b *bridge) readRegion(ptr, maxLength uint32) ([]byte, error) {
	mem, err := b.memory()
	if err != nil {
		return nil, err
	}
	r, err := readRegion(mem, ptr)
	if err != nil {
		return nil, err
	}
	return b.readRegionPayload(mem, r, maxLength)
}

func (b *bridge) readRegionPayload(mem api.Memory, r Region, maxLength uint32) ([]byte, error) {
	if r.Offset == 0 {
		return nil, fmt.Errorf("%w: region offset is zero", ErrDerefErr)
	}
	if r.Length > maxLength {
		return nil, fmt.Errorf("%w: length %d exceeds max %d", ErrRegionLengthTooBig, r.Length, maxLength)
	}
	raw, ok := mem.Read(r.Offset, r.Length)
	if !ok {
		return nil, fmt.Errorf("%w: offset %d length %d out of bounds", ErrDerefErr, r.Offset, r.Length)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// writeRegion copies data into a pre-allocated guest region at ptr. Fails
// with ErrRegionTooSmall if data does not fit in the region's capacity.
func (b *bridge) writeRegion(ptr uint32, data []byte) error {
	mem, err := b.memory()
	if err != nil {
		return err
	}
	r, err := readRegion(mem, ptr)
	if err != nil {
		return err
	}
	if uint32(len(data)) > r.Capacity {
		return fmt.Errorf("%w: %d bytes does not fit in capacity %d", ErrRegionTooSmall, len(data), r.Capacity)
	}
	if len(data) > 0 && !mem.Write(r.Offset, data) {
		return fmt.Errorf("%w: failed to write %d bytes at %d", ErrDerefErr, len(data), r.Offset)
	}
	r.Length = uint32(len(data))
	return writeRegionDescriptor(mem, ptr, r)
}
