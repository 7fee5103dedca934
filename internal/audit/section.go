package audit

import (
	"github.com/rs/zerolog"
)

// section is a nested dict of an audit event that is omitted when none of
// its fields carry a value. The zero value is ready to use.
type section struct {
	dict *zerolog.Event
}

func (s *section) fields() *zerolog.Event {
	if s.dict == nil {
		s.dict = zerolog.Dict()
	}
	return s.dict
}

// attachTo adds the section to parent under key if anything was written.
func (s *section) attachTo(parent *zerolog.Event, key string) {
	if s.dict != nil {
		parent.Dict(key, s.dict)
	}
}

func (s *section) str(key, val string) *section {
	if val != "" {
		s.fields().Str(key, val)
	}
	return s
}

func (s *section) strs(key string, vals []string) *section {
	if len(vals) > 0 {
		s.fields().Strs(key, vals)
	}
	return s
}

// flag is always written: false is as meaningful as true.
func (s *section) flag(key string, val bool) *section {
	s.fields().Bool(key, val)
	return s
}

func (s *section) code(key string, val int) *section {
	if val != 0 {
		s.fields().Int(key, val)
	}
	return s
}
