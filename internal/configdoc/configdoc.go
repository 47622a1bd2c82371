// Package configdoc reads the provider configuration document: reusable
// named regex components plus provider definitions with their message
// templates, carried with a monotonically increasing version token.
package configdoc

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// Document is the parsed configuration file.
type Document struct {
	XMLName    xml.Name    `xml:"autoregister"`
	Version    string      `xml:"version,attr"`
	Components []Component `xml:"component"`
	Providers  []Provider  `xml:"provider"`
}

// Component is a reusable named regex fragment referenced by templates.
type Component struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Provider is one provider definition with its message templates.
type Provider struct {
	Name     string   `xml:"name,attr"`
	PhoneNo  string   `xml:"phoneNo,attr"`
	Icon     string   `xml:"icon,attr"`
	Messages []string `xml:"message"`
}

// Load reads and parses a configuration document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config document: %w", err)
	}
	return Parse(data)
}

// Parse parses a configuration document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config document: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("config document has no version attribute")
	}

	// Templates are authored with surrounding indentation; strip it.
	for i := range doc.Providers {
		for j, msg := range doc.Providers[i].Messages {
			doc.Providers[i].Messages[j] = strings.TrimSpace(msg)
		}
	}
	return &doc, nil
}

// ComponentMap returns the field-name to regex-fragment dictionary used by
// template compilation.
func (d *Document) ComponentMap() map[string]string {
	m := make(map[string]string, len(d.Components))
	for _, c := range d.Components {
		m[c.Name] = c.Value
	}
	return m
}
