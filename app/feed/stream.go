package feed

import (
	"encoding/xml"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// visitor receives push-style events from walk, one call per tag or text run
type visitor interface {
	onStart(name string, attrs map[string]string)
	onEnd(name string)
	onText(text string)
}

// walk streams xml document from r into v in a single pass.
// Element names keep their literal prefix, i.e. "yt:videoId" or "media:thumbnail".
func walk(r io.Reader, v visitor) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity
	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return parsingError("malformed document: " + err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			attrs := make(map[string]string, len(t.Attr))
			for _, a := range t.Attr {
				attrs[qname(a.Name)] = a.Value
			}
			v.onStart(qname(t.Name), attrs)
		case xml.EndElement:
			v.onEnd(qname(t.Name))
		case xml.CharData:
			v.onText(string(t))
		}
	}
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// record is a set of fields collected for one item
type record map[string]string

// filled checks all keys are set to non-empty values
func (r record) filled(keys ...string) bool {
	for _, k := range keys {
		if r[k] == "" {
			return false
		}
	}
	return true
}

// present checks all keys were seen, empty values allowed
func (r record) present(keys ...string) bool {
	for _, k := range keys {
		if _, ok := r[k]; !ok {
			return false
		}
	}
	return true
}

// scanState is the accumulator shared by the xml visitors. It tracks whether the scan is
// inside an item element, buffers text of the element being captured and collects item records.
type scanState struct {
	inItem  bool
	capture bool
	text    strings.Builder
	current record
	items   []record
}

// capturing starts or stops buffering of character data for the element just opened
func (s *scanState) capturing(on bool) {
	s.capture = on
	s.text.Reset()
}

func (s *scanState) onText(text string) {
	if s.capture {
		s.text.WriteString(text)
	}
}

// take returns buffered text and stops capturing
func (s *scanState) take() string {
	res := s.text.String()
	s.capturing(false)
	return res
}

func (s *scanState) beginItem() {
	s.inItem = true
	s.current = record{}
}

func (s *scanState) endItem() {
	if s.current != nil {
		s.items = append(s.items, s.current)
	}
	s.current = nil
	s.inItem = false
}

// set stores a field of the current item
func (s *scanState) set(name, value string) {
	if s.current == nil {
		s.current = record{}
	}
	s.current[name] = value
}

// validate checks the common invariants of a parsed document
func validate(title string, items []record, complete func(record) bool) error {
	if title == "" {
		return parsingError("Feed has no title")
	}
	if len(items) == 0 {
		return parsingError("Feed has no items")
	}
	for _, it := range items {
		if !complete(it) {
			return parsingError("Some item is missing fields")
		}
	}
	return nil
}
