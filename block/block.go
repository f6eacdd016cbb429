// Package block implements the DATEX block wire format: routing header,
// optional signature, block header, optional encrypted header, and body.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/datex-network/datex-hub/endpoint"
)

var magic = [2]byte{0x01, 0x64}

const (
	signatureBlobLen = 108 // 64-byte signature material + 44-byte pubkey blob
	preHeaderLen      = 5  // magic(2) + version(1) + size(2)
)

// SignatureType selects whether and how a block's signature is protected.
type SignatureType uint8

const (
	SignatureNone       SignatureType = 0
	SignatureUnencrypted SignatureType = 1
	SignatureEncrypted  SignatureType = 2
)

// EncryptionType selects whether the encrypted header + body are encrypted.
type EncryptionType uint8

const (
	EncryptionNone    EncryptionType = 0
	EncryptionEnabled EncryptionType = 1
)

// Type identifies the purpose of a block, packed into the block header.
type Type uint8

const (
	TypeRequest      Type = 0
	TypeResponse     Type = 1
	TypeData         Type = 2
	TypeLocalRequest Type = 3
	TypeHello        Type = 4
	TypeTrace        Type = 5
	TypeTraceBack    Type = 6
	TypeUpdate       Type = 7
)

// ReceiverKind discriminates the ReceiverSet variants.
type ReceiverKind uint8

const (
	ReceiverKindEmpty          ReceiverKind = 0
	ReceiverKindEndpoints      ReceiverKind = 1
	ReceiverKindEndpointsKeyed ReceiverKind = 2
	ReceiverKindPointerID      ReceiverKind = 3
)

// ReceiverSet names the addressees of a block. Exactly one of the typed
// fields is populated, selected by Kind.
type ReceiverSet struct {
	Kind      ReceiverKind
	Endpoints []endpoint.Endpoint
	Keys      map[endpoint.Endpoint][]byte // EndpointsWithKeys
	PointerID uint32
}

// Contains reports whether ep is named directly by this receiver set
// (pointer-id receiver sets never match).
func (r ReceiverSet) Contains(ep endpoint.Endpoint) bool {
	switch r.Kind {
	case ReceiverKindEndpoints:
		for _, e := range r.Endpoints {
			if e == ep {
				return true
			}
		}
	case ReceiverKindEndpointsKeyed:
		_, ok := r.Keys[ep]
		return ok
	}
	return false
}

// All returns every endpoint named by the receiver set: in listed order for
// a plain endpoint list, in unspecified order for a keyed set.
func (r ReceiverSet) All() []endpoint.Endpoint {
	switch r.Kind {
	case ReceiverKindEndpoints:
		return append([]endpoint.Endpoint(nil), r.Endpoints...)
	case ReceiverKindEndpointsKeyed:
		out := make([]endpoint.Endpoint, 0, len(r.Keys))
		for e := range r.Keys {
			out = append(out, e)
		}
		return out
	default:
		return nil
	}
}

func NewReceivers(eps ...endpoint.Endpoint) ReceiverSet {
	return ReceiverSet{Kind: ReceiverKindEndpoints, Endpoints: eps}
}

// RoutingHeader is the plaintext routing envelope of a block.
type RoutingHeader struct {
	Version        uint8
	Size           uint16 // total block size including magic, filled on Decode
	SignatureType  SignatureType
	EncryptionType EncryptionType
	IsBounceBack   bool
	TTL            uint8
	Distance       uint8
	Sender         endpoint.Endpoint
	Receivers      ReceiverSet
}

// BlockHeader is the block-scoped (as opposed to routing-scoped) header.
type BlockHeader struct {
	ContextID        uint32
	SectionIndex     uint16
	BlockNumber      uint16
	Type             Type
	EndOfSection     bool
	CreationTimestampMS uint64
}

// ID globally identifies a specific block: two blocks with the same ID are
// the same block, for history/dedup purposes.
type ID struct {
	Sender       endpoint.Endpoint
	ContextID    uint32
	CreationTS   uint64
	SectionIndex uint16
	BlockNumber  uint16
}

// EndpointContextID names a logical conversation.
type EndpointContextID struct {
	Sender    endpoint.Endpoint
	ContextID uint32
}

// EndpointContextSectionID names a section inside a conversation.
type EndpointContextSectionID struct {
	EndpointContextID
	SectionIndex uint16
}

// Signature carries the 108-byte signature blob: 64 bytes of signature
// material (possibly AES-CTR encrypted) followed by a 44-byte pubkey blob.
type Signature struct {
	Material [64]byte
	PubKey   [44]byte
}

// Block is one framed DATEX message.
type Block struct {
	Routing         RoutingHeader
	Signature       *Signature
	Header          BlockHeader
	EncryptedHeader []byte
	Body            []byte
}

// ID computes the block's global identity.
func (b *Block) ID() ID {
	return ID{
		Sender:       b.Routing.Sender,
		ContextID:    b.Header.ContextID,
		CreationTS:   b.Header.CreationTimestampMS,
		SectionIndex: b.Header.SectionIndex,
		BlockNumber:  b.Header.BlockNumber,
	}
}

// EndpointContextID computes the conversation id this block belongs to.
func (b *Block) EndpointContextID() EndpointContextID {
	return EndpointContextID{Sender: b.Routing.Sender, ContextID: b.Header.ContextID}
}

// SectionID computes the section id this block belongs to.
func (b *Block) SectionID() EndpointContextSectionID {
	return EndpointContextSectionID{EndpointContextID: b.EndpointContextID(), SectionIndex: b.Header.SectionIndex}
}

// IsBounceBack reports the routing header's bounce-back flag.
func (b *Block) IsBounceBack() bool { return b.Routing.IsBounceBack }

// CloneWithReceivers returns a shallow copy of b with a new receiver set;
// used when fanning a block out to several outbound socket groups.
func (b *Block) CloneWithReceivers(r ReceiverSet) *Block {
	clone := *b
	clone.Routing.Receivers = r
	return &clone
}

// Errors returned by Encode/Decode.
var (
	ErrInvalidMagic = fmt.Errorf("block: invalid magic number")
	ErrTooShort     = fmt.Errorf("block: insufficient length")
	ErrMalformed    = fmt.Errorf("block: malformed frame")
)

type fieldRangeError struct {
	field string
}

func (e *fieldRangeError) Error() string { return fmt.Sprintf("block: field %q out of range", e.field) }

// ExtractLength reads the total frame length from the first 5 bytes of a
// stream, as required by the block collector's peek step.
func ExtractLength(b []byte) (uint16, error) {
	if len(b) < preHeaderLen {
		return 0, ErrTooShort
	}
	if b[0] != magic[0] || b[1] != magic[1] {
		return 0, ErrInvalidMagic
	}
	return binary.LittleEndian.Uint16(b[3:5]), nil
}

// Encode serializes the block to its wire form, computing and writing the
// final size field.
func Encode(b *Block) ([]byte, error) {
	if b.Routing.Sender.Type > endpoint.Anonymous {
		return nil, &fieldRangeError{"sender.type"}
	}
	buf := make([]byte, 0, 256)
	buf = append(buf, magic[0], magic[1])
	buf = append(buf, b.Routing.Version)
	buf = append(buf, 0, 0) // size placeholder, patched below
	buf = append(buf, b.Routing.TTL, b.Routing.Distance)

	flags := uint8(b.Routing.SignatureType) | uint8(b.Routing.EncryptionType)<<2
	if b.Routing.IsBounceBack {
		flags |= 1 << 4
	}
	buf = append(buf, flags)

	senderBin := b.Routing.Sender.ToBinary()
	buf = append(buf, senderBin[:]...)

	recvBuf, err := encodeReceivers(b.Routing.Receivers)
	if err != nil {
		return nil, err
	}
	buf = append(buf, recvBuf...)

	if b.Routing.SignatureType != SignatureNone {
		if b.Signature == nil {
			return nil, &fieldRangeError{"signature"}
		}
		buf = append(buf, b.Signature.Material[:]...)
		buf = append(buf, b.Signature.PubKey[:]...)
	}

	var bh [9]byte
	binary.LittleEndian.PutUint32(bh[0:4], b.Header.ContextID)
	binary.LittleEndian.PutUint16(bh[4:6], b.Header.SectionIndex)
	binary.LittleEndian.PutUint16(bh[6:8], b.Header.BlockNumber)
	typeFlags := uint8(b.Header.Type)
	if b.Header.EndOfSection {
		typeFlags |= 1 << 7
	}
	bh[8] = typeFlags
	buf = append(buf, bh[:]...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], b.Header.CreationTimestampMS)
	buf = append(buf, ts[:]...)

	buf = append(buf, b.EncryptedHeader...)
	buf = append(buf, b.Body...)

	if len(buf) > int(^uint16(0)) {
		return nil, &fieldRangeError{"size"}
	}
	binary.LittleEndian.PutUint16(buf[3:5], uint16(len(buf)))
	return buf, nil
}

func encodeReceivers(r ReceiverSet) ([]byte, error) {
	var out []byte
	out = append(out, byte(r.Kind))
	switch r.Kind {
	case ReceiverKindEmpty:
	case ReceiverKindEndpoints:
		if len(r.Endpoints) > 0xFFFF {
			return nil, &fieldRangeError{"receivers"}
		}
		var count [2]byte
		binary.LittleEndian.PutUint16(count[:], uint16(len(r.Endpoints)))
		out = append(out, count[:]...)
		for _, e := range r.Endpoints {
			bin := e.ToBinary()
			out = append(out, bin[:]...)
		}
	case ReceiverKindEndpointsKeyed:
		var count [2]byte
		binary.LittleEndian.PutUint16(count[:], uint16(len(r.Keys)))
		out = append(out, count[:]...)
		for e, key := range r.Keys {
			bin := e.ToBinary()
			out = append(out, bin[:]...)
			var klen [2]byte
			binary.LittleEndian.PutUint16(klen[:], uint16(len(key)))
			out = append(out, klen[:]...)
			out = append(out, key...)
		}
	case ReceiverKindPointerID:
		var pid [4]byte
		binary.LittleEndian.PutUint32(pid[:], r.PointerID)
		out = append(out, pid[:]...)
	default:
		return nil, &fieldRangeError{"receivers.kind"}
	}
	return out, nil
}

// Decode parses a complete wire frame (as delimited by ExtractLength) into a Block.
func Decode(buf []byte) (*Block, error) {
	if len(buf) < preHeaderLen {
		return nil, ErrTooShort
	}
	if buf[0] != magic[0] || buf[1] != magic[1] {
		return nil, ErrInvalidMagic
	}
	size := binary.LittleEndian.Uint16(buf[3:5])
	if int(size) != len(buf) {
		return nil, ErrMalformed
	}
	if len(buf) < 2+1+2+1+1+1+21 {
		return nil, ErrTooShort
	}

	i := 2
	version := buf[i]
	i++
	i += 2 // size, already read
	ttl := buf[i]
	i++
	distance := buf[i]
	i++
	flags := buf[i]
	i++

	if i+21 > len(buf) {
		return nil, ErrTooShort
	}
	sender, err := endpoint.FromBinary(buf[i : i+21])
	if err != nil {
		return nil, ErrMalformed
	}
	i += 21

	receivers, n, err := decodeReceivers(buf[i:])
	if err != nil {
		return nil, err
	}
	i += n

	routing := RoutingHeader{
		Version:        version,
		Size:           size,
		SignatureType:  SignatureType(flags & 0x3),
		EncryptionType: EncryptionType((flags >> 2) & 0x3),
		IsBounceBack:   flags&(1<<4) != 0,
		TTL:            ttl,
		Distance:       distance,
		Sender:         sender,
		Receivers:      receivers,
	}

	var sig *Signature
	if routing.SignatureType != SignatureNone {
		if i+signatureBlobLen > len(buf) {
			return nil, ErrTooShort
		}
		sig = &Signature{}
		copy(sig.Material[:], buf[i:i+64])
		copy(sig.PubKey[:], buf[i+64:i+108])
		i += signatureBlobLen
	}

	if i+17 > len(buf) {
		return nil, ErrTooShort
	}
	contextID := binary.LittleEndian.Uint32(buf[i : i+4])
	sectionIndex := binary.LittleEndian.Uint16(buf[i+4 : i+6])
	blockNumber := binary.LittleEndian.Uint16(buf[i+6 : i+8])
	typeFlags := buf[i+8]
	ts := binary.LittleEndian.Uint64(buf[i+9 : i+17])
	i += 17

	header := BlockHeader{
		ContextID:           contextID,
		SectionIndex:        sectionIndex,
		BlockNumber:         blockNumber,
		Type:                Type(typeFlags & 0x7F),
		EndOfSection:        typeFlags&(1<<7) != 0,
		CreationTimestampMS: ts,
	}

	body := append([]byte(nil), buf[i:]...)

	return &Block{
		Routing:         routing,
		Signature:       sig,
		Header:          header,
		EncryptedHeader: nil,
		Body:            body,
	}, nil
}

func decodeReceivers(buf []byte) (ReceiverSet, int, error) {
	if len(buf) < 1 {
		return ReceiverSet{}, 0, ErrTooShort
	}
	kind := ReceiverKind(buf[0])
	i := 1
	switch kind {
	case ReceiverKindEmpty:
		return ReceiverSet{Kind: kind}, i, nil
	case ReceiverKindEndpoints:
		if len(buf) < i+2 {
			return ReceiverSet{}, 0, ErrTooShort
		}
		count := int(binary.LittleEndian.Uint16(buf[i : i+2]))
		i += 2
		eps := make([]endpoint.Endpoint, 0, count)
		for j := 0; j < count; j++ {
			if len(buf) < i+21 {
				return ReceiverSet{}, 0, ErrTooShort
			}
			e, err := endpoint.FromBinary(buf[i : i+21])
			if err != nil {
				return ReceiverSet{}, 0, ErrMalformed
			}
			eps = append(eps, e)
			i += 21
		}
		return ReceiverSet{Kind: kind, Endpoints: eps}, i, nil
	case ReceiverKindEndpointsKeyed:
		if len(buf) < i+2 {
			return ReceiverSet{}, 0, ErrTooShort
		}
		count := int(binary.LittleEndian.Uint16(buf[i : i+2]))
		i += 2
		keys := make(map[endpoint.Endpoint][]byte, count)
		for j := 0; j < count; j++ {
			if len(buf) < i+23 {
				return ReceiverSet{}, 0, ErrTooShort
			}
			e, err := endpoint.FromBinary(buf[i : i+21])
			if err != nil {
				return ReceiverSet{}, 0, ErrMalformed
			}
			i += 21
			klen := int(binary.LittleEndian.Uint16(buf[i : i+2]))
			i += 2
			if len(buf) < i+klen {
				return ReceiverSet{}, 0, ErrTooShort
			}
			keys[e] = append([]byte(nil), buf[i:i+klen]...)
			i += klen
		}
		return ReceiverSet{Kind: kind, Keys: keys}, i, nil
	case ReceiverKindPointerID:
		if len(buf) < i+4 {
			return ReceiverSet{}, 0, ErrTooShort
		}
		pid := binary.LittleEndian.Uint32(buf[i : i+4])
		i += 4
		return ReceiverSet{Kind: kind, PointerID: pid}, i, nil
	default:
		return ReceiverSet{}, 0, ErrMalformed
	}
}
