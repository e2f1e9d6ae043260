package storage

// Page is a single fixed-size unit of the file. Unlike a slotted document
// page, a KiteDB page carries no internal record framing of its own: the
// header region is one page holding the Header record, the WAL region is a
// byte-addressable ring of pages holding framed WAL records (storage/wal.go),
// and the snapshot region is a byte-addressable blob holding the CSR section
// table (package snapshot). Record framing lives at those higher layers.
type Page struct {
	data []byte
}

// NewPage allocates a zeroed page of the given size.
func NewPage(pageSize int) *Page {
	return &Page{data: make([]byte, pageSize)}
}

// WrapPage wraps an existing buffer as a page without copying. The caller
// must not mutate buf concurrently with use through the returned Page.
func WrapPage(buf []byte) *Page {
	return &Page{data: buf}
}

// Bytes returns the page's underlying buffer.
func (p *Page) Bytes() []byte {
	return p.data
}

// Len returns the page size in bytes.
func (p *Page) Len() int {
	return len(p.data)
}
