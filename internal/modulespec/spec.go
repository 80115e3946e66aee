// Package modulespec decodes the manager's CREATE payload into the
// ModuleSpec/ModuleMetadata shapes the rest of the runtime consumes.
package modulespec

import (
	"encoding/json"
	"fmt"

	"github.com/silverline-wasm/runtime-core/internal/errs"
)

// Instrumentation names an optional instrumentation scheme and its
// scheme-specific arguments (e.g. "memaccess-stochastic" takes a
// density integer as its first arg).
type Instrumentation struct {
	Scheme string   `json:"scheme"`
	Args   []string `json:"instargs"`
}

// Spec describes one guest run. It is built from the wire payload by
// ParseCreate rather than unmarshaled directly (the wire shape nests
// these fields under an "args" object).
type Spec struct {
	Path       string
	Dirs       []string
	Env        []string
	Argv       []string
	Repeat     int
	Instrument *Instrumentation
}

// Metadata identifies the module within the runtime fleet.
type Metadata struct {
	Index  int
	Name   string
	UUID   string
	Parent string
}

// createPayload mirrors the wire shape from spec §6:
//
//	{"file": "...", "args": {...}, "index": N, "name": "...", "uuid": "...", "parent": "..."}
type createPayload struct {
	File  string `json:"file"`
	Args  struct {
		Dirs       []string         `json:"dirs"`
		Env        []string         `json:"env"`
		Argv       []string         `json:"argv"`
		Repeat     int              `json:"repeat"`
		Instrument *Instrumentation `json:"instrument"`
	} `json:"args"`
	Index  int    `json:"index"`
	Name   string `json:"name"`
	UUID   string `json:"uuid"`
	Parent string `json:"parent"`
}

// ParseCreate decodes a CREATE control payload into a Spec and its
// Metadata. It returns an error for malformed JSON or a missing file
// path — callers in the Protocol error category log at WARN and drop
// the message rather than propagating the error further.
func ParseCreate(payload []byte) (Spec, Metadata, error) {
	var p createPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Spec{}, Metadata{}, fmt.Errorf("%w: parse create payload: %w", errs.ErrProtocol, err)
	}
	if p.File == "" {
		return Spec{}, Metadata{}, fmt.Errorf("%w: parse create payload: missing file", errs.ErrProtocol)
	}
	repeat := p.Args.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	spec := Spec{
		Path:       p.File,
		Dirs:       p.Args.Dirs,
		Env:        p.Args.Env,
		Argv:       p.Args.Argv,
		Repeat:     repeat,
		Instrument: p.Args.Instrument,
	}
	meta := Metadata{
		Index:  p.Index,
		Name:   p.Name,
		UUID:   p.UUID,
		Parent: p.Parent,
	}
	return spec, meta, nil
}

// BuildArgv returns the guest argv with Path prepended as argv[0]; the
// runtime builds this itself rather than trusting the manager to.
func (s Spec) BuildArgv() []string {
	argv := make([]string, 0, len(s.Argv)+1)
	argv = append(argv, s.Path)
	argv = append(argv, s.Argv...)
	return argv
}
