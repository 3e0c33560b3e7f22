// Package intent implements layered intent parsing for incoming questions:
// a rule engine over official-correspondence phrasing, a vector-similarity
// match against previously answered questions, and an LLM field extraction,
// merged into one result with a confidence score.
package intent

// Intent holds the structured fields extracted from a question. Empty
// string and nil slice mean "not extracted".
type Intent struct {
	Sender        string   `json:"sender,omitempty"`
	Receiver      string   `json:"receiver,omitempty"`
	DocType       string   `json:"doc_type,omitempty"`
	Status        string   `json:"status,omitempty"`
	DateFrom      string   `json:"date_from,omitempty"`
	DateTo        string   `json:"date_to,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	RelatedEntity string   `json:"related_entity,omitempty"`
	Category      string   `json:"category,omitempty"`
}

// IsEmpty reports whether no field was extracted.
func (i Intent) IsEmpty() bool {
	return i.Sender == "" && i.Receiver == "" && i.DocType == "" &&
		i.Status == "" && i.DateFrom == "" && i.DateTo == "" &&
		len(i.Keywords) == 0 && i.RelatedEntity == "" && i.Category == ""
}

// FieldCount returns how many fields carry a value, used for confidence
// scoring.
func (i Intent) FieldCount() int {
	n := 0
	for _, s := range []string{i.Sender, i.Receiver, i.DocType, i.Status, i.DateFrom, i.DateTo, i.RelatedEntity, i.Category} {
		if s != "" {
			n++
		}
	}
	if len(i.Keywords) > 0 {
		n++
	}
	return n
}

// merge fills empty fields of i from other. Fields already set on i win.
func (i Intent) merge(other Intent) Intent {
	if i.Sender == "" {
		i.Sender = other.Sender
	}
	if i.Receiver == "" {
		i.Receiver = other.Receiver
	}
	if i.DocType == "" {
		i.DocType = other.DocType
	}
	if i.Status == "" {
		i.Status = other.Status
	}
	if i.DateFrom == "" {
		i.DateFrom = other.DateFrom
	}
	if i.DateTo == "" {
		i.DateTo = other.DateTo
	}
	if i.RelatedEntity == "" {
		i.RelatedEntity = other.RelatedEntity
	}
	if i.Category == "" {
		i.Category = other.Category
	}
	for _, kw := range other.Keywords {
		if !containsString(i.Keywords, kw) {
			i.Keywords = append(i.Keywords, kw)
		}
	}
	return i
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Parse sources, in layering order.
const (
	SourceRules   = "rules"
	SourceHistory = "history"
	SourceLLM     = "llm"
)

// Result is the outcome of a layered parse.
type Result struct {
	Intent     Intent
	Source     string
	Confidence float64
}
