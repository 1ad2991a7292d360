// Package pfc reads and writes the Pool File Catalog XML document (spec §6):
//
//	<!DOCTYPE POOLFILECATALOG SYSTEM "InMemory">
//	<POOLFILECATALOG>
//	  <File ID="<guid>">
//	    <physical>
//	      <pfn filetype="ROOT_All" name="<url>"/>
//	    </physical>
//	    <logical/>
//	  </File>
//	</POOLFILECATALOG>
package pfc

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const doctype = `<!DOCTYPE POOLFILECATALOG SYSTEM "InMemory">` + "\n"

// pfn is one physical filename entry for a File.
type pfn struct {
	FileType string `xml:"filetype,attr"`
	Name     string `xml:"name,attr"`
}

type physical struct {
	PFN pfn `xml:"pfn"`
}

// fileEntry is one <File> element, identified by its GUID.
type fileEntry struct {
	ID       string   `xml:"ID,attr"`
	Physical physical `xml:"physical"`
	Logical  struct{} `xml:"logical"`
}

// catalog is the XML root element.
type catalog struct {
	XMLName xml.Name    `xml:"POOLFILECATALOG"`
	Files   []fileEntry `xml:"File"`
}

// Entry is one file this package's callers want reflected in the catalog:
// a GUID mapped to the resolved URL (TURL/SURL) pointing at its bytes.
type Entry struct {
	GUID string
	URL  string
}

// Write renders entries as a pretty-printed (2-space indent) Pool File
// Catalog document, including the leading DOCTYPE line.
func Write(entries []Entry) ([]byte, error) {
	c := catalog{Files: make([]fileEntry, len(entries))}
	for i, e := range entries {
		c.Files[i] = fileEntry{
			ID: e.GUID,
			Physical: physical{PFN: pfn{
				FileType: "ROOT_All",
				Name:     e.URL,
			}},
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(doctype)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("pfc: failed to encode catalog: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Read parses a Pool File Catalog document back into Entries.
func Read(data []byte) ([]Entry, error) {
	var c catalog
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("pfc: failed to parse catalog: %w", err)
	}
	entries := make([]Entry, len(c.Files))
	for i, f := range c.Files {
		entries[i] = Entry{GUID: f.ID, URL: f.Physical.PFN.Name}
	}
	return entries, nil
}
