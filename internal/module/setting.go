package module

import "sync"

// Setting is a declared, string-valued module setting addressed by a stable
// key. Values are populated from stored strings and read back as strings for
// persistence.
//
// Change notification is a plain synchronous callback list; callbacks run on
// the mutating goroutine and must not block.
type Setting struct {
	Key         string
	Name        string
	Description string

	mu       sync.Mutex
	def      string
	value    string
	onChange []func(value string)
}

func NewSetting(key, name, def string) *Setting {
	return &Setting{Key: key, Name: name, def: def, value: def}
}

func (s *Setting) WithDescription(d string) *Setting {
	s.Description = d
	return s
}

func (s *Setting) Default() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def
}

func (s *Setting) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores a new value and notifies registered callbacks synchronously.
// Setting the current value again is a no-op.
func (s *Setting) Set(v string) {
	s.mu.Lock()
	if v == s.value {
		s.mu.Unlock()
		return
	}
	s.value = v
	cbs := append([]func(string){}, s.onChange...)
	s.mu.Unlock()

	for _, cb := range cbs {
		if cb != nil {
			cb(v)
		}
	}
}

// Reset restores the default value (with change notification if it differs).
func (s *Setting) Reset() {
	s.mu.Lock()
	def := s.def
	s.mu.Unlock()
	s.Set(def)
}

func (s *Setting) OnChange(fn func(value string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}
