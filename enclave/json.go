package enclave

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Timers and certificates are serialized as flat JSON objects with keys
// emitted in strict alphabetical order. Signatures are computed over the
// serialized bytes, so the writer below guarantees byte-identical output
// for the same logical object; encoding/json field iteration is not
// relied upon.

type canonicalWriter struct {
	buf   bytes.Buffer
	first bool
}

func newCanonicalWriter() *canonicalWriter {
	w := &canonicalWriter{first: true}
	w.buf.WriteByte('{')
	return w
}

func (w *canonicalWriter) key(name string) {
	if !w.first {
		w.buf.WriteByte(',')
	}
	w.first = false
	w.buf.WriteByte('"')
	w.buf.WriteString(name)
	w.buf.WriteString(`":`)
}

func (w *canonicalWriter) writeString(name, value string) {
	w.key(name)
	// json.Marshal of a string cannot fail and handles escaping.
	encoded, _ := json.Marshal(value)
	w.buf.Write(encoded)
}

func (w *canonicalWriter) writeFloat(name string, value float64) {
	w.key(name)
	w.buf.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
}

func (w *canonicalWriter) writeUint(name string, value uint64) {
	w.key(name)
	w.buf.WriteString(strconv.FormatUint(value, 10))
}

func (w *canonicalWriter) finish() []byte {
	w.buf.WriteByte('}')
	return w.buf.Bytes()
}
