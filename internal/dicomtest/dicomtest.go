// Package dicomtest builds DICOM Part 10 byte streams for tests. Files are
// encoded as Explicit VR Little Endian with a minimal file meta group.
package dicomtest

import (
	"bytes"
	"encoding/binary"
	"sort"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Secondary Capture Image Storage
const defaultSOPClassUID = "1.2.840.10008.5.1.4.1.1.7"

type element struct {
	group   uint16
	element uint16
	vr      string
	value   []byte
}

// File is a Part 10 file under construction.
type File struct {
	elements  map[uint32]element
	omitMagic bool
}

// NewFile returns an empty data set. Meta information is generated by Bytes.
func NewFile() *File {
	return &File{elements: make(map[uint32]element)}
}

func key(group, elem uint16) uint32 {
	return uint32(group)<<16 | uint32(elem)
}

// String sets a string-valued element. Multiple values are joined with `\`.
func (f *File) String(group, elem uint16, vr string, values ...string) *File {
	var buf bytes.Buffer
	for i, v := range values {
		if i > 0 {
			buf.WriteByte('\\')
		}
		buf.WriteString(v)
	}
	f.elements[key(group, elem)] = element{group: group, element: elem, vr: vr, value: buf.Bytes()}
	return f
}

// UInt16 sets a US element.
func (f *File) UInt16(group, elem uint16, values ...uint16) *File {
	buf := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	f.elements[key(group, elem)] = element{group: group, element: elem, vr: "US", value: buf}
	return f
}

// Raw sets an element with an already-encoded value.
func (f *File) Raw(group, elem uint16, vr string, value []byte) *File {
	f.elements[key(group, elem)] = element{group: group, element: elem, vr: vr, value: value}
	return f
}

// Remove drops an element.
func (f *File) Remove(group, elem uint16) *File {
	delete(f.elements, key(group, elem))
	return f
}

// WithoutMagic makes Bytes skip the "DICM" signature.
func (f *File) WithoutMagic() *File {
	f.omitMagic = true
	return f
}

// Bytes encodes the file: 128-byte preamble, "DICM", file meta group, data set.
func (f *File) Bytes() []byte {
	sopInstance := "1.2.3"
	if e, ok := f.elements[key(0x0008, 0x0018)]; ok {
		sopInstance = string(e.value)
	}

	var meta bytes.Buffer
	writeElement(&meta, element{group: 0x0002, element: 0x0001, vr: "OB", value: []byte{0x00, 0x01}})
	writeElement(&meta, element{group: 0x0002, element: 0x0002, vr: "UI", value: []byte(defaultSOPClassUID)})
	writeElement(&meta, element{group: 0x0002, element: 0x0003, vr: "UI", value: []byte(sopInstance)})
	writeElement(&meta, element{group: 0x0002, element: 0x0010, vr: "UI", value: []byte(explicitVRLittleEndian)})

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	if !f.omitMagic {
		out.WriteString("DICM")
	}

	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(meta.Len()))
	writeElement(&out, element{group: 0x0002, element: 0x0000, vr: "UL", value: groupLength})
	out.Write(meta.Bytes())

	keys := make([]uint32, 0, len(f.elements))
	for k := range f.elements {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		writeElement(&out, f.elements[k])
	}
	return out.Bytes()
}

func writeElement(buf *bytes.Buffer, e element) {
	value := e.value
	if len(value)%2 == 1 {
		value = append(append([]byte(nil), value...), padByte(e.vr))
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:], e.group)
	binary.LittleEndian.PutUint16(hdr[2:], e.element)
	buf.Write(hdr[:])
	buf.WriteString(e.vr)

	if longLength(e.vr) {
		var l [6]byte
		binary.LittleEndian.PutUint32(l[2:], uint32(len(value)))
		buf.Write(l[:])
	} else {
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(value)))
		buf.Write(l[:])
	}
	buf.Write(value)
}

func longLength(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

func padByte(vr string) byte {
	switch vr {
	case "UI", "OB", "UN":
		return 0x00
	}
	return ' '
}
