package protocol

import (
	"context"
	"plugin"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
)

// LibrarySymbols is the entry-point triple a library-mode EDC exports:
// init/take_decisions/deinit. Go plugins export Go-typed symbols rather
// than a raw C ABI, so a library
// built for this core exposes them as this struct's field names instead of
// bare C functions; the *shape* (buffer in, buffer out, explicit sizes) is
// preserved so a thin cgo shim can still bridge to an actual C/C++ EDC
// shared object if needed.
type LibrarySymbols struct {
	// Init is called once before the simulation starts, with the EDC init
	// buffer in buf and the configuration flags in flags.
	Init func(buf []byte, flags uint32) error
	// TakeDecisions performs one request/reply exchange: in is the
	// encoded outbound Message, the return value is the encoded reply.
	TakeDecisions func(in []byte) ([]byte, error)
	// Deinit is called once after the simulation ends.
	Deinit func() error
}

// LoadLibrary opens a Go plugin at path and resolves the three required
// symbols. isolate requests loading
// in a private memory namespace to avoid symbol collisions with the host;
// Go's plugin package always loads into the host's address space, so
// isolate is accepted for interface parity and has no effect (no collision
// protection is actually required in-process, since every loaded Go
// plugin already has its own unexported symbol table).
func LoadLibrary(path string, isolate bool) (*LibrarySymbols, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
			"loading EDC library %q: %v", path, err)
	}

	initSym, err := p.Lookup("Init")
	if err != nil {
		return nil, missingSymbol(path, "Init", err)
	}
	takeSym, err := p.Lookup("TakeDecisions")
	if err != nil {
		return nil, missingSymbol(path, "TakeDecisions", err)
	}
	deinitSym, err := p.Lookup("Deinit")
	if err != nil {
		return nil, missingSymbol(path, "Deinit", err)
	}

	initFn, ok := initSym.(func([]byte, uint32) error)
	if !ok {
		return nil, badSymbolType(path, "Init")
	}
	takeFn, ok := takeSym.(func([]byte) ([]byte, error))
	if !ok {
		return nil, badSymbolType(path, "TakeDecisions")
	}
	deinitFn, ok := deinitSym.(func() error)
	if !ok {
		return nil, badSymbolType(path, "Deinit")
	}

	return &LibrarySymbols{Init: initFn, TakeDecisions: takeFn, Deinit: deinitFn}, nil
}

func missingSymbol(path, name string, cause error) error {
	return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
		"EDC library %q does not export %s: %v", path, name, cause)
}

func badSymbolType(path, name string) error {
	return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
		"EDC library %q exports %s with an unexpected signature", path, name)
}

// NewLibraryClient builds a Client around a loaded library's TakeDecisions
// symbol. initBuf/flags are forwarded to Init before the first round trip;
// Deinit runs on Close.
func NewLibraryClient(codec Codec, syms *LibrarySymbols, initBuf []byte, flags uint32) (Client, error) {
	if err := syms.Init(initBuf, flags); err != nil {
		return nil, batsimerrors.NewProtocolError(batsimerrors.ErrorCodeEDCFailure, "EDC init failed: %v", err)
	}
	transport := func(_ context.Context, req []byte) ([]byte, error) {
		resp, err := syms.TakeDecisions(req)
		if err != nil {
			return nil, batsimerrors.NewProtocolError(batsimerrors.ErrorCodeEDCFailure, "EDC take_decisions failed: %v", err)
		}
		return resp, nil
	}
	return NewClient(codec, transport, func() error { return syms.Deinit() }), nil
}
