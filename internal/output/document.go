package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
)

// document streams a single {"meta": ..., "freq": [...], "data": {...}} object.
type document struct {
	f   *os.File
	buf *bufio.Writer

	entries int
	ended   bool
}

type entry struct {
	Real []float64 `json:"real"`
	Imag []float64 `json:"imag"`
}

func newDocument(f *os.File) *document {
	return &document{f: f, buf: bufio.NewWriter(f)}
}

func (d *document) begin(meta Meta, freqs []float64) error {
	if freqs == nil {
		freqs = []float64{}
	}

	m, err := json.MarshalIndent(meta, "", indent)
	if err != nil {
		return err
	}
	fr, err := json.Marshal(freqs)
	if err != nil {
		return err
	}

	d.write("{\n")
	d.write(`"meta": `)
	d.buf.Write(m)
	d.write(",\n")
	d.write(`"freq": `)
	d.buf.Write(fr)
	d.write(",\n")
	d.write(`"data": {`)

	return d.buf.Flush()
}

func (d *document) entry(key string, real, imag []float64) error {
	if d.ended {
		return ErrDocumentClosed
	}

	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(entry{Real: real, Imag: imag})
	if err != nil {
		return err
	}

	if d.entries > 0 {
		d.write(",")
	}
	d.write("\n" + indent)
	d.buf.Write(k)
	d.write(": ")
	d.buf.Write(v)
	d.entries++

	return d.buf.Flush()
}

func (d *document) end() error {
	if d.ended {
		return ErrDocumentClosed
	}
	d.ended = true

	d.write("\n}\n}\n")
	return d.buf.Flush()
}

func (d *document) close() error {
	var endErr error
	if !d.ended {
		endErr = d.end()
	}

	return errors.Join(endErr, d.f.Close())
}

// write errors are sticky in bufio.Writer and surface on Flush.
func (d *document) write(s string) {
	_, _ = d.buf.WriteString(s)
}
