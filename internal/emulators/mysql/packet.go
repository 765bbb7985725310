package mysql

import (
	"encoding/binary"
	"io"
	"net"
)

// readPacket reads one MySQL protocol packet: 3-byte little-endian
// length, 1-byte sequence id, then that many payload bytes.
func readPacket(conn net.Conn) (byte, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return 0, nil, err
	}
	length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	seq := header[3]
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return 0, nil, err
		}
	}
	return seq, payload, nil
}

func writePacket(conn net.Conn, seq byte, payload []byte) error {
	header := make([]byte, 4)
	length := len(payload)
	header[0] = byte(length)
	header[1] = byte(length >> 8)
	header[2] = byte(length >> 16)
	header[3] = seq
	_, err := conn.Write(append(header, payload...))
	return err
}

func writeOK(conn net.Conn, seq byte) error {
	payload := []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	return writePacket(conn, seq, payload)
}

// writeTextResultSet writes a minimal text protocol result set: column
// count, column definitions, EOF, rows, EOF.
func writeTextResultSet(conn net.Conn, seq *byte, columns []string, rows [][]string) {
	_ = writePacket(conn, *seq, lengthEncodedInt(uint64(len(columns))))
	*seq++
	for _, col := range columns {
		_ = writePacket(conn, *seq, columnDefinition(col))
		*seq++
	}
	_ = writePacket(conn, *seq, eofPacket())
	*seq++
	for _, row := range rows {
		var buf []byte
		for _, val := range row {
			buf = append(buf, lengthEncodedString(val)...)
		}
		_ = writePacket(conn, *seq, buf)
		*seq++
	}
	_ = writePacket(conn, *seq, eofPacket())
	*seq++
}

func lengthEncodedInt(v uint64) []byte {
	if v < 251 {
		return []byte{byte(v)}
	}
	buf := make([]byte, 3)
	buf[0] = 0xfc
	binary.LittleEndian.PutUint16(buf[1:], uint16(v))
	return buf
}

func lengthEncodedString(s string) []byte {
	return append(lengthEncodedInt(uint64(len(s))), []byte(s)...)
}

func columnDefinition(name string) []byte {
	var buf []byte
	buf = append(buf, lengthEncodedString("def")...)
	buf = append(buf, lengthEncodedString("")...)
	buf = append(buf, lengthEncodedString("")...)
	buf = append(buf, lengthEncodedString("")...)
	buf = append(buf, lengthEncodedString(name)...)
	buf = append(buf, lengthEncodedString(name)...)
	buf = append(buf, 0x0c)
	buf = append(buf, []byte{0x21, 0x00}...) // charset utf8
	buf = append(buf, leUint32(255)...)      // column length
	buf = append(buf, 0xfd)                  // type VAR_STRING
	buf = append(buf, []byte{0x00, 0x00}...) // flags
	buf = append(buf, 0x00)                  // decimals
	buf = append(buf, []byte{0x00, 0x00}...) // filler
	return buf
}

func eofPacket() []byte {
	return []byte{0xfe, 0x00, 0x00, 0x02, 0x00}
}
