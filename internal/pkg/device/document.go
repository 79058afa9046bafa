package device

// Document is a single request or response body exchanged with the ingest
// server. Documents serialize canonically: encoding/json writes map keys
// in sorted order, so identical fields always produce identical bytes,
// which the tag computation depends on.
type Document map[string]interface{}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	cpy := make(Document, len(d))
	for k, v := range d {
		cpy[k] = v
	}
	return cpy
}

// Has reports whether the document contains the given field, regardless
// of its value.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// String returns the named field as a string, or "" if absent or not a
// string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Uint32 returns the named field as a uint32. JSON numbers decode as
// float64, so both representations are accepted.
func (d Document) Uint32(key string) (uint32, bool) {
	switch v := d[key].(type) {
	case float64:
		return uint32(v), true
	case uint32:
		return v, true
	case int:
		return uint32(v), true
	default:
		return 0, false
	}
}

// Object returns the named field as a nested document.
func (d Document) Object(key string) (Document, bool) {
	switch v := d[key].(type) {
	case Document:
		return v, true
	case map[string]interface{}:
		return Document(v), true
	default:
		return nil, false
	}
}

// Array returns the named field as a slice of nested documents, skipping
// any elements that are not objects.
func (d Document) Array(key string) []Document {
	raw, ok := d[key].([]interface{})
	if !ok {
		return nil
	}
	docs := make([]Document, 0, len(raw))
	for _, elem := range raw {
		switch obj := elem.(type) {
		case Document:
			docs = append(docs, obj)
		case map[string]interface{}:
			docs = append(docs, Document(obj))
		}
	}
	return docs
}
