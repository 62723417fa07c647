package schema

// ResultKind tags the payload shape of a node result.
type ResultKind string

const (
	ResultText    ResultKind = "text"
	ResultImage   ResultKind = "image"
	ResultObject  ResultKind = "object"
	ResultDefault ResultKind = "default"
	ResultNumber  ResultKind = "number"
	ResultBoolean ResultKind = "boolean"
)

// Result is the output a node produced in a run. A nil *Result means the
// node ran but produced nothing.
type Result struct {
	Kind    ResultKind `json:"type"`
	Payload any        `json:"data"`
}

// NewResult builds a result.
func NewResult(kind ResultKind, payload any) *Result {
	return &Result{Kind: kind, Payload: payload}
}

// Text returns the payload as a string when it is one.
func (r *Result) Text() (string, bool) {
	if r == nil {
		return "", false
	}
	s, ok := r.Payload.(string)
	return s, ok
}

// Object returns the payload as a map when it is one.
func (r *Result) Object() (map[string]any, bool) {
	if r == nil {
		return nil, false
	}
	m, ok := r.Payload.(map[string]any)
	return m, ok
}

// ImageURL returns the imageUrl field of an image result.
func (r *Result) ImageURL() (string, bool) {
	if r == nil || r.Kind != ResultImage {
		return "", false
	}
	m, ok := r.Object()
	if !ok {
		return "", false
	}
	u, ok := m["imageUrl"].(string)
	return u, ok && u != ""
}
