package tlschannel

import "encoding/binary"

// recordHeaderSize is the on-wire header NoiseEngine prepends to every
// record it produces: a 4-byte big-endian length followed by a 1-byte
// record type — the same [length][type] layout the teacher repository uses
// for its own application-level framing, repurposed here as the engine's
// wire format so a receiver can tell a handshake record from a data record
// without first decrypting anything (the Noise cipher alone gives no such
// signal, unlike a TLS record's content-type byte).
const recordHeaderSize = 4 + 1

const (
	// noiseRecordHandshake tags a raw Noise handshake message.
	noiseRecordHandshake byte = 0x01
	// noiseRecordData tags an AEAD-sealed application data payload.
	noiseRecordData byte = 0x02
	// noiseRecordClose tags a close-notify record; it carries no payload.
	noiseRecordClose byte = 0x03
)

type recordHeader struct {
	recordType byte
	length     int
}

// putRecordHeader writes a header at dst's current write-mode position.
func putRecordHeader(dst *nioBuffer, recordType byte, length int) {
	var hdr [recordHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(length))
	hdr[4] = recordType
	dst.put(hdr[:])
}

// peekRecordHeader reads, without consuming, the header at src's current
// read-mode position. ok is false when fewer than recordHeaderSize bytes
// remain.
func peekRecordHeader(src *nioBuffer) (recordHeader, bool) {
	if src.remaining() < recordHeaderSize {
		return recordHeader{}, false
	}
	raw := src.buf[src.pos : src.pos+recordHeaderSize]
	return recordHeader{
		length:     int(binary.BigEndian.Uint32(raw[:4])),
		recordType: raw[4],
	}, true
}
