package framing

// crc16Poly and crc16Init are the payload trailer CRC parameters: no input
// reflection, no final XOR, chosen for 5-bit Hamming distance over payloads
// up to 135 bytes.
const (
	crc16Poly uint16 = 0x3D65
	crc16Init uint16 = 0x1337
)

// crc16 computes the payload CRC-16 over data, retuned from
// amken3d-gopper/protocol/crc16.go's bit-manipulation shape to this wire
// format's polynomial and initial value (the Klipper CRC-16 this was
// adapted from protects a different frame and uses a different
// polynomial).
func crc16(data []byte) uint16 {
	crc := crc16Init
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
