package service

import (
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

const (
	instanceIDPath   = "meta/instanceID"
	deprecatedIDName = "deprecatedID"
	openRosaNS       = "http://openrosa.org/http/response"
	openRosaTime     = "2006-01-02T15:04:05.000-07:00"
)

// protectedFields may not be set by a bulk update, nor any path below them.
var protectedFields = []string{"__version__", "formhub", "meta"}

func isProtected(path string) bool {
	root, _, _ := strings.Cut(path, "/")
	for _, f := range protectedFields {
		if root == f {
			return true
		}
	}
	return false
}

// newInstanceID returns a random uuid and its OpenRosa "uuid:" form.
func newInstanceID() (string, string) {
	id := uuid.NewString()
	return id, "uuid:" + id
}

func openRosaTimestamp(t time.Time) string {
	return t.UTC().Format(openRosaTime)
}

func parseSubmission(raw string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil || doc.Root() == nil {
		return nil, ErrMalformedSubmissionXML
	}
	return doc, nil
}

// ensurePath returns the element at the slash separated path below root,
// creating missing elements one level at a time.
func ensurePath(root *etree.Element, path string) *etree.Element {
	cur := root
	for _, name := range strings.Split(path, "/") {
		next := cur.SelectElement(name)
		if next == nil {
			next = cur.CreateElement(name)
		}
		cur = next
	}
	return cur
}

// openRosaMessage extracts the message of an OpenRosa response envelope.
func openRosaMessage(body []byte) (string, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return "", false
	}
	for _, el := range doc.FindElements("//message") {
		if el.NamespaceURI() == openRosaNS {
			return el.Text(), true
		}
	}
	return "", false
}
