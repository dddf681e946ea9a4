package domain

// Outcome tags the result of a create call against the document backend.
// Failures are reported through the accompanying error instead.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// StringAttribute is a required, length-bounded string field declared on a
// collection.
type StringAttribute struct {
	Key      string
	Size     int
	Required bool
}

// Index declares a (possibly unique) index over collection attributes.
type Index struct {
	Key        string
	Unique     bool
	Attributes []string
}

// Document is a single record written to a collection. Attributes hold the
// declared, indexed string fields; Data holds the full body.
type Document struct {
	ID         string
	Attributes map[string]string
	Data       map[string]any
}
