package report

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

const (
	flatfileErrorMarker = `filetype:"flatfile". `
	unreachableMessage  = "Could not reach ENA server! Please check EMBL server connection!"
	unparseableSuffix   = "\n\nI cannot parse this, but apparently there's a problem.\nCheck EMBL server connection?"
	knownError          = "known error"
)

var sequenceRef = regexp.MustCompile(`Sequence [0-9]+`)

// ReplyParseError means no structured reading of a reply worked; the outcome
// carries the raw text instead.
type ReplyParseError struct {
	Shape Shape
	Err   error
}

func (e *ReplyParseError) Error() string {
	return fmt.Sprintf("cannot understand ENA's reply (%s): %v", e.Shape, e.Err)
}

func (e *ReplyParseError) Unwrap() error { return e.Err }

func (e *ReplyParseError) Kind() apperr.Kind { return apperr.KindReplyParse }

// element is a generic XML tree node.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

func (e *element) attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// walk visits e and its descendants in document order.
func (e *element) walk(fn func(*element)) {
	fn(e)
	for i := range e.Children {
		e.Children[i].walk(fn)
	}
}

func (e *element) find(name string) *element {
	var found *element
	e.walk(func(n *element) {
		if found == nil && n.XMLName.Local == name {
			found = n
		}
	})
	return found
}

// ParseReply reads a reply of the archive's registration service. filetype is
// the element carrying the accession (PROJECT, ANALYSIS). samples lists the
// sample identities in ordinal order and resolves "Sequence <n>" references.
// ParseReply never fails: unreadable replies degrade to raw text with
// Outcome.ParseErr set.
func ParseReply(data []byte, filetype string, samples []string) *Outcome {
	var root element
	xmlErr := xml.Unmarshal(data, &root)
	if xmlErr == nil {
		if o, ok := fromReceipt(&root, filetype, samples); ok {
			return o
		}
		xmlErr = fmt.Errorf("no RECEIPT element in %s document", root.XMLName.Local)
	}
	if o, ok := fromKeyValue(data); ok {
		return o
	}
	return fromUnstructured(data, xmlErr)
}

func fromReceipt(root *element, filetype string, samples []string) (*Outcome, bool) {
	receipt := root.find("RECEIPT")
	if receipt == nil {
		return nil, false
	}
	o := &Outcome{Shape: ShapeReceipt}
	if v, _ := receipt.attr("success"); v == "true" {
		o.Success = true
		if el := root.find(filetype); el != nil {
			o.ExternalID, _ = el.attr("accession")
		}
	}

	var info []string
	root.walk(func(n *element) {
		switch n.XMLName.Local {
		case "INFO":
			if t := strings.TrimSpace(n.Text); t != "" {
				info = append(info, t)
			}
		case "ERROR":
			o.Success = false
			o.receiptError(strings.TrimSpace(n.Text), samples)
		}
	})
	if !o.Success {
		o.ExternalID = ""
	}
	o.Info = strings.Join(info, "\n")
	o.sortGroups()
	return o, true
}

// receiptError attributes one ERROR text. Errors about the flat file name a
// sequence by its 1-based position in the submitted artifact.
func (o *Outcome) receiptError(text string, samples []string) {
	if text == "" {
		return
	}
	_, detail, found := strings.Cut(text, flatfileErrorMarker)
	if !found {
		o.addGeneral(text)
		return
	}
	ref := sequenceRef.FindString(detail)
	if ref == "" {
		o.addGeneral(detail)
		return
	}
	nr, _ := strconv.Atoi(strings.TrimPrefix(ref, "Sequence "))
	if nr < 1 || nr > len(samples) {
		o.addGeneral(fmt.Sprintf("%s (sequence %d is not part of this batch)", detail, nr))
		return
	}
	sample := samples[nr-1]
	msg := strings.Replace(detail, ref, SampleKey(nr, sample), 1)
	o.add(nr, sample, msg, 0)
}

// fromKeyValue reads the degraded {"error":..,"message":..,"status":..}
// reply. All three keys are required.
func fromKeyValue(data []byte) (*Outcome, bool) {
	fields := map[string]string{}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err == nil {
		for k, v := range decoded {
			fields[k] = fmt.Sprint(v)
		}
	} else {
		body := bytes.TrimSpace(data)
		if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
			return nil, false
		}
		for _, pair := range strings.Split(string(body[1:len(body)-1]), ",") {
			k, v, ok := strings.Cut(strings.ReplaceAll(pair, `"`, ""), ":")
			if !ok {
				return nil, false
			}
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	for _, key := range []string{"error", "message", "status"} {
		if _, ok := fields[key]; !ok {
			return nil, false
		}
	}

	o := &Outcome{Shape: ShapeKeyValue}
	if fields["error"] == "Not Found" && fields["message"] == "Not Found" && fields["status"] == "404" {
		o.addGeneral(unreachableMessage)
		o.Info = knownError
		return o, true
	}
	o.addGeneral(fields["error"])
	o.Info = fields["message"]
	return o, true
}

func fromUnstructured(data []byte, cause error) *Outcome {
	text := string(data)
	shape := ShapeRaw
	if _, after, ok := strings.Cut(text, "<body>"); ok {
		if body, _, ok := strings.Cut(after, "</body>"); ok {
			text = body
			shape = ShapeHTML
		}
	}
	o := Failed(shape, strings.TrimSpace(text)+unparseableSuffix)
	o.ParseErr = &ReplyParseError{Shape: shape, Err: cause}
	return o
}
