// Package sorter is an example network: a generator sends packets to an
// interconnect, which routes each one by address to one of three
// coprocessors and returns the coprocessor's response to the generator.
package sorter

import (
	"fmt"
	"slices"
)

// Packet is the value carried between sorter modules.
type Packet struct {
	ID      uint32   `json:"id"`
	Address uint32   `json:"address"`
	Payload []uint32 `json:"payload"`
}

// Equal reports whether p and o carry the same id, address and payload.
func (p Packet) Equal(o Packet) bool {
	return p.ID == o.ID && p.Address == o.Address && slices.Equal(p.Payload, o.Payload)
}

// Clone returns a copy of p that shares no memory with it.
func (p Packet) Clone() Packet {
	p.Payload = slices.Clone(p.Payload)
	return p
}

func (p Packet) String() string {
	return fmt.Sprintf("packet#%d@%d[%d]", p.ID, p.Address, len(p.Payload))
}

// AddressError is returned by the interconnect for a packet addressed to a
// coprocessor that does not exist.
type AddressError struct {
	PacketID uint32
	Address  uint32
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("packet %d: bad address %d", e.PacketID, e.Address)
}
