package layout

import "strings"

// Locator identifies content either directly or through a share page.
type Locator interface {
	String() string
	locator()
}

// MediaLocator is a URL expected to serve media bytes directly.
type MediaLocator string

// SourceLocator identifies content indirectly, typically a share page that must
// be rendered to find its media.
type SourceLocator string

func (m MediaLocator) String() string { return strings.TrimSpace(string(m)) }
func (s SourceLocator) String() string { return strings.TrimSpace(string(s)) }

func (MediaLocator) locator() {}
func (SourceLocator) locator() {}

// IsBlank reports whether l is nil or empty after trimming.
func IsBlank(l Locator) bool {
	return l == nil || l.String() == ""
}
