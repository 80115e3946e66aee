package modulespec

import (
	"errors"
	"testing"

	"github.com/silverline-wasm/runtime-core/internal/errs"
)

func TestParseCreate(t *testing.T) {
	payload := []byte(`{
		"file": "/guests/race.wasm",
		"args": {
			"dirs": ["/tmp"],
			"env": ["FOO=bar"],
			"argv": ["--iters", "10"],
			"repeat": 3,
			"instrument": {"scheme": "memaccess-stochastic", "instargs": ["25"]}
		},
		"index": 2,
		"name": "race-check",
		"uuid": "abc-123",
		"parent": "runtime-0"
	}`)

	spec, meta, err := ParseCreate(payload)
	if err != nil {
		t.Fatalf("ParseCreate: %v", err)
	}

	if spec.Path != "/guests/race.wasm" {
		t.Errorf("Path = %q", spec.Path)
	}
	if spec.Repeat != 3 {
		t.Errorf("Repeat = %d, want 3", spec.Repeat)
	}
	if spec.Instrument == nil || spec.Instrument.Scheme != "memaccess-stochastic" {
		t.Fatalf("Instrument = %+v", spec.Instrument)
	}
	if spec.Instrument.Args[0] != "25" {
		t.Errorf("Instrument.Args[0] = %q", spec.Instrument.Args[0])
	}

	if meta.Index != 2 || meta.Name != "race-check" || meta.UUID != "abc-123" || meta.Parent != "runtime-0" {
		t.Errorf("meta = %+v", meta)
	}

	argv := spec.BuildArgv()
	want := []string{"/guests/race.wasm", "--iters", "10"}
	if len(argv) != len(want) {
		t.Fatalf("BuildArgv() = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("BuildArgv()[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestParseCreateDefaultsRepeatToOne(t *testing.T) {
	spec, _, err := ParseCreate([]byte(`{"file": "a.wasm", "args": {}}`))
	if err != nil {
		t.Fatalf("ParseCreate: %v", err)
	}
	if spec.Repeat != 1 {
		t.Errorf("Repeat = %d, want 1", spec.Repeat)
	}
}

func TestParseCreateRejectsMissingFile(t *testing.T) {
	_, _, err := ParseCreate([]byte(`{"args": {}}`))
	if !errors.Is(err, errs.ErrProtocol) {
		t.Fatalf("ParseCreate error = %v, want errs.ErrProtocol", err)
	}
}

func TestParseCreateRejectsMalformedJSON(t *testing.T) {
	_, _, err := ParseCreate([]byte(`{not json`))
	if !errors.Is(err, errs.ErrProtocol) {
		t.Fatalf("ParseCreate error = %v, want errs.ErrProtocol", err)
	}
}
