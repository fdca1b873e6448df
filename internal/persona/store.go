package persona

// Store maps persona names to their state, remembering insertion order so
// reports and exports list personas the way they were registered.
type Store struct {
	order  []string
	byName map[string]*Persona
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byName: map[string]*Persona{}}
}

// Put inserts or replaces the persona keyed by its name. A replaced persona
// keeps its original position. It reports whether an entry was replaced.
func (s *Store) Put(p *Persona) bool {
	if p == nil {
		return false
	}
	_, exists := s.byName[p.Name]
	if !exists {
		s.order = append(s.order, p.Name)
	}
	s.byName[p.Name] = p
	return exists
}

// Get looks up a persona by name.
func (s *Store) Get(name string) (*Persona, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// All returns the stored personas in insertion order.
func (s *Store) All() []*Persona {
	out := make([]*Persona, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// Names returns persona names in insertion order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of personas.
func (s *Store) Len() int {
	return len(s.order)
}
