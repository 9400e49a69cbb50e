// Package xmlkey parses and serializes the XML elements kept in a key bucket.
package xmlkey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// NamePrefix is the fixed label every stored entry name starts with.
// The remainder of the name is the element's id attribute.
const NamePrefix = "key-"

// PrefixLen is the number of characters stripped from an entry name to
// recover the element id.
const PrefixLen = len(NamePrefix)

// ErrNoRoot is returned when a payload holds no root element.
var ErrNoRoot = errors.New("xmlkey: document has no root element")

// ErrExtraContent is returned when a payload holds more than one root
// element or text outside the root.
var ErrExtraContent = errors.New("xmlkey: content outside the root element")

// Element is a parsed XML element. Insignificant whitespace between child
// elements is dropped at parse time so that String is stable across round
// trips.
type Element struct {
	doc *etree.Document
}

// Parse reads a single XML element from text.
func Parse(text string) (*Element, error) {
	src := etree.NewDocument()
	if err := src.ReadFromString(text); err != nil {
		return nil, fmt.Errorf("parse element: %w", err)
	}
	root := src.Root()
	if root == nil {
		return nil, ErrNoRoot
	}
	if err := checkSingleRoot(src); err != nil {
		return nil, err
	}
	stripWhitespace(root)

	doc := etree.NewDocument()
	doc.SetRoot(root)
	return &Element{doc: doc}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// literals.
func MustParse(text string) *Element {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// Root returns the underlying element tree.
func (e *Element) Root() *etree.Element {
	return e.doc.Root()
}

// Tag returns the element's local tag name.
func (e *Element) Tag() string {
	return e.doc.Root().Tag
}

// ID returns the value of the id attribute, or "" if absent.
func (e *Element) ID() string {
	return e.doc.Root().SelectAttrValue("id", "")
}

// Attr returns the value of the named attribute, or "" if absent.
func (e *Element) Attr(name string) string {
	return e.doc.Root().SelectAttrValue(name, "")
}

// ChildText returns the text of the first direct child with the given tag.
func (e *Element) ChildText(tag string) (string, bool) {
	child := e.doc.Root().SelectElement(tag)
	if child == nil {
		return "", false
	}
	return child.Text(), true
}

// String serializes the element without indentation.
func (e *Element) String() string {
	s, err := e.doc.WriteToString()
	if err != nil {
		// WriteToString only fails on writer errors, which a strings.Builder never returns.
		panic(err)
	}
	return s
}

// FriendlyName returns the entry name under which an element with the given
// id is stored.
func FriendlyName(id string) string {
	return NamePrefix + id
}

// IDFromName strips the fixed prefix from an entry name. It reports false
// when the name is too short to carry one.
func IDFromName(name string) (string, bool) {
	if len(name) < PrefixLen {
		return "", false
	}
	return name[PrefixLen:], true
}

// MatchesName reports whether the element's id equals the id encoded in name,
// ignoring case. An element without an id never matches.
func (e *Element) MatchesName(name string) bool {
	id := e.ID()
	if strings.TrimSpace(id) == "" {
		return false
	}
	suffix, ok := IDFromName(name)
	if !ok {
		return false
	}
	return strings.EqualFold(id, suffix)
}

// checkSingleRoot rejects documents with a second element or non-blank
// text at the top level. Declarations and comments are allowed.
func checkSingleRoot(doc *etree.Document) error {
	elements := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			elements++
			if elements > 1 {
				return fmt.Errorf("%w: second element <%s>", ErrExtraContent, t.Tag)
			}
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return fmt.Errorf("%w: text %q", ErrExtraContent, t.Data)
			}
		}
	}
	return nil
}

// stripWhitespace removes whitespace-only character data under el, leaving
// text content of leaf elements intact.
func stripWhitespace(el *etree.Element) {
	for i := len(el.Child) - 1; i >= 0; i-- {
		switch t := el.Child[i].(type) {
		case *etree.CharData:
			if t.IsWhitespace() && len(el.ChildElements()) > 0 {
				el.RemoveChildAt(i)
			}
		case *etree.Element:
			stripWhitespace(t)
		}
	}
}
