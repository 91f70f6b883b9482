package acq

import "encoding/binary"

// DecodeBigEndian converts a raw byte stream of two's-complement big-endian
// 16-bit samples. An odd trailing byte is discarded.
func DecodeBigEndian(buf []byte) []Sample {
	n := len(buf) / 2
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		out[i] = Sample(binary.BigEndian.Uint16(buf[2*i:]))
	}
	return out
}

// EncodeBigEndian is the inverse of DecodeBigEndian.
func EncodeBigEndian(samples []Sample) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}
