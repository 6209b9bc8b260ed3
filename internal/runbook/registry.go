package runbook

// Registry holds the set of loaded runbooks (built-in plus any cached
// from the server) indexed both by ID and by the signal_keys they
// declare as candidates, so the pipeline domain can look up a match for
// an incoming Signature without scanning the whole set.
type Registry struct {
	byID        map[string]*Runbook
	bySignalKey map[string][]*Runbook
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:        make(map[string]*Runbook),
		bySignalKey: make(map[string][]*Runbook),
	}
}

// Load indexes a set of runbooks, replacing any prior entries with the
// same ID.
func (r *Registry) Load(rbs []*Runbook) {
	for _, rb := range rbs {
		r.byID[rb.ID] = rb
		for _, key := range rb.MatchSignalKeys {
			r.bySignalKey[key] = appendUnique(r.bySignalKey[key], rb)
		}
	}
}

func appendUnique(list []*Runbook, rb *Runbook) []*Runbook {
	for _, existing := range list {
		if existing.ID == rb.ID {
			return list
		}
	}
	return append(list, rb)
}

// ByID returns a runbook by its ID.
func (r *Registry) ByID(id string) (*Runbook, bool) {
	rb, ok := r.byID[id]
	return rb, ok
}

// Match returns the first candidate runbook registered for signalKey,
// or nil if none matches. Multiple candidates are resolved by
// registration order (built-ins first, server-cached runbooks appended
// after); a future revision may rank by ExecutionCount or Source.
func (r *Registry) Match(signalKey string) *Runbook {
	candidates := r.bySignalKey[signalKey]
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// All returns every loaded runbook, for persistence of server-cached
// entries.
func (r *Registry) All() []*Runbook {
	out := make([]*Runbook, 0, len(r.byID))
	for _, rb := range r.byID {
		out = append(out, rb)
	}
	return out
}
