package session

// HeaderBytes encodes the header portion of rec.
func HeaderBytes(rec *Record) []byte {
	return encodeHeader(headerOf(rec))
}

// ParseHeader decodes b into a fresh record.
func ParseHeader(b []byte) (*Record, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	h.apply(rec)
	return rec, nil
}
