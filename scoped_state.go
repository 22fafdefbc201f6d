package segring

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// ScopedState is a bag of string properties under a scope name, usually the
// name of the cache the state belongs to. Hashes are persisted into one with
// Factory.ToPersistentState.
type ScopedState struct {
	scope string
	props map[string]string
}

func NewScopedState(scope string) *ScopedState {
	return &ScopedState{scope: scope, props: map[string]string{}}
}

func (s *ScopedState) Scope() string {
	return s.scope
}

func (s *ScopedState) Len() int {
	return len(s.props)
}

func (s *ScopedState) SetProperty(key, value string) {
	s.props[key] = value
}

func (s *ScopedState) SetPropertyInt(key string, value int) {
	s.props[key] = strconv.Itoa(value)
}

func (s *ScopedState) SetPropertyFloat(key string, value float32) {
	s.props[key] = strconv.FormatFloat(float64(value), 'g', -1, 32)
}

func (s *ScopedState) RemoveProperty(key string) {
	delete(s.props, key)
}

// RemovePropertiesWithPrefix removes every property whose key starts with
// prefix.
func (s *ScopedState) RemovePropertiesWithPrefix(prefix string) {
	for k := range s.props {
		if strings.HasPrefix(k, prefix) {
			delete(s.props, k)
		}
	}
}

func (s *ScopedState) Property(key string) (string, bool) {
	v, ok := s.props[key]
	return v, ok
}

func (s *ScopedState) PropertyInt(key string) (int, error) {
	v, ok := s.props[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing property %q", ErrStateMismatch, key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: property %q: %s", ErrStateMismatch, key, err)
	}
	return i, nil
}

func (s *ScopedState) PropertyFloat(key string) (float32, error) {
	v, ok := s.props[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing property %q", ErrStateMismatch, key)
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: property %q: %s", ErrStateMismatch, key, err)
	}
	return float32(f), nil
}

// Keys returns the property keys in sorted order.
func (s *ScopedState) Keys() []string {
	keys := make([]string, 0, len(s.props))
	for k := range s.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Checksum is an xxhash of the scope and sorted properties; equal states have
// equal checksums on every node.
func (s *ScopedState) Checksum() uint64 {
	d := xxhash.New()
	d.WriteString(s.scope)
	for _, k := range s.Keys() {
		d.WriteString("\n")
		d.WriteString(k)
		d.WriteString("=")
		d.WriteString(s.props[k])
	}
	return d.Sum64()
}

type scopedStateWire struct {
	Scope string            `cbor:"1,keyasint"`
	Props map[string]string `cbor:"2,keyasint"`
}

var (
	stateEncMode cbor.EncMode
	stateDecMode cbor.DecMode
)

func init() {
	var err error
	// Canonical encoding sorts the map keys, so equal states encode to equal
	// bytes.
	if stateEncMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if stateDecMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func (s *ScopedState) MarshalBinary() ([]byte, error) {
	return stateEncMode.Marshal(&scopedStateWire{Scope: s.scope, Props: s.props})
}

func (s *ScopedState) UnmarshalBinary(data []byte) error {
	var w scopedStateWire
	if err := stateDecMode.Unmarshal(data, &w); err != nil {
		return err
	}
	s.scope = w.Scope
	s.props = w.Props
	if s.props == nil {
		s.props = map[string]string{}
	}
	return nil
}
