// Package arxiv enthält die Logik für die Interaktion mit der arXiv-Export-API (Atom).
package arxiv

import "encoding/xml"

// Feed repräsentiert die Atom-Antwort der Query-Schnittstelle.
type Feed struct {
	XMLName xml.Name `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []Entry  `xml:"entry"`
}

// Entry repräsentiert ein einzelnes Paper im Feed.
type Entry struct {
	ID         string     `xml:"id"`
	Title      string     `xml:"title"`
	Summary    string     `xml:"summary"`
	Published  string     `xml:"published"`
	Updated    string     `xml:"updated"`
	Authors    []Author   `xml:"author"`
	Categories []Category `xml:"category"`
}

type Author struct {
	Name string `xml:"name"`
}

type Category struct {
	Term string `xml:"term,attr"`
}
