// Package decoder turns the raw SiteStatus.xml document produced by a SiteBoss
// unit into a typed Document tree. It performs no filtering: every
// EventSensor group and every Sensor element is kept exactly as the device
// reported it (whitespace-trimmed). Filtering and classification belong to
// producer/telemetry.
package decoder

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/net/html/charset"
)

// ─────────────────────────────────────────────────────────────────────────────
// Document tree
// ─────────────────────────────────────────────────────────────────────────────

// Document is the decoded form of SiteStatus.xml. Unit fields are direct
// children of the root element; nil means the tag was missing or empty.
type Document struct {
	XMLName xml.Name

	SiteName  *string `xml:"Unit_Sitename"`
	Serial    *string `xml:"Unit_Serial"`
	Version   *string `xml:"Unit_Version"`
	Build     *string `xml:"Unit_Build"`
	Hardware  *string `xml:"Unit_Hardware"`
	Date      *string `xml:"Unit_Date"`
	Time      *string `xml:"Unit_Time"`
	Latitude  *string `xml:"Unit_Latitude"`
	Longitude *string `xml:"Unit_Longitude"`
	Uptime    *string `xml:"Unit_Uptime"`

	Groups []EventSensor `xml:"EventSensor"`
}

// EventSensor is one sensor cluster ("ES") and the sensors it reports.
type EventSensor struct {
	Name    string      `xml:"ES_Name"`
	State   string      `xml:"ES_State"`
	Sensors []RawSensor `xml:"Sensor"`
}

// RawSensor is a single <Sensor> element before any filtering.
type RawSensor struct {
	Type         string `xml:"Sensor_Type"`
	Name         string `xml:"Sensor_Name"`
	StatusString string `xml:"Sensor_Status_String"`
	Enabled      string `xml:"Sensor_Enabled"`
	ValueString  string `xml:"Sensor_Value_String"`
	Number       string `xml:"Sensor_Number"`
	Value        string `xml:"Sensor_Value"`
	Units        string `xml:"Sensor_Units"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

// ErrNoRoot is wrapped by ParseError when the input holds no root element.
var ErrNoRoot = errors.New("document has no root element")

// ErrTrailingContent is wrapped by ParseError when markup or text follows the
// root element.
var ErrTrailingContent = errors.New("junk after document element")

// ParseError reports a raw document that could not be turned into a Document
// because it is not well-formed XML or lacks a root element.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "decoder: parse: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Decoder
// ─────────────────────────────────────────────────────────────────────────────

// Decoder converts raw document bytes into a Document. It is stateless once
// constructed and safe for concurrent use.
type Decoder struct {
	logger *slog.Logger
}

// New constructs a Decoder. Pass nil for a no-op logger.
func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Decoder{logger: logger}
}

// Decode parses raw into a Document. Any failure is returned as *ParseError.
//
// Non-UTF-8 documents are converted using the charset named in the XML
// declaration (SiteBoss firmware commonly declares ISO-8859-1).
func (d *Decoder) Decode(raw []byte) (Document, error) {
	var doc Document

	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, &ParseError{Err: ErrNoRoot}
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrNoRoot
		}
		return Document{}, &ParseError{Err: err}
	}
	if err := expectEOF(dec); err != nil {
		return Document{}, &ParseError{Err: err}
	}

	doc.normalise()

	d.logger.Debug("decoder: document decoded",
		"root", doc.XMLName.Local,
		"groups", len(doc.Groups),
		"bytes", len(raw),
	)
	return doc, nil
}

// expectEOF accepts only whitespace, comments and processing instructions
// after the root element.
func expectEOF(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return ErrTrailingContent
			}
		default:
			return ErrTrailingContent
		}
	}
}

// normalise trims every text field and turns empty unit tags into nil.
func (doc *Document) normalise() {
	for _, p := range []**string{
		&doc.SiteName, &doc.Serial, &doc.Version, &doc.Build, &doc.Hardware,
		&doc.Date, &doc.Time, &doc.Latitude, &doc.Longitude, &doc.Uptime,
	} {
		*p = optional(*p)
	}
	for gi := range doc.Groups {
		g := &doc.Groups[gi]
		g.Name = strings.TrimSpace(g.Name)
		g.State = strings.TrimSpace(g.State)
		for si := range g.Sensors {
			s := &g.Sensors[si]
			s.Type = strings.TrimSpace(s.Type)
			s.Name = strings.TrimSpace(s.Name)
			s.StatusString = strings.TrimSpace(s.StatusString)
			s.Enabled = strings.TrimSpace(s.Enabled)
			s.ValueString = strings.TrimSpace(s.ValueString)
			s.Number = strings.TrimSpace(s.Number)
			s.Value = strings.TrimSpace(s.Value)
			s.Units = strings.TrimSpace(s.Units)
		}
	}
}

func optional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
