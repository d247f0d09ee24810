// Package sqladapter implements the host SQL adapter (C9): the pluggable
// collaborator env.read delegates to for actually running a statement
// against a remote SQL query service.
package sqladapter

import (
	"context"
	"encoding/json"

	"github.com/sanderpick/tableland-functions/pkg/runtime"
)

// Adapter is the interface env.read delegates to. It mirrors
// runtime.SQLAdapter so both a real HTTP-backed client and a deterministic
// mock can be constructed in this package and handed to runtime.NewEngine
// without either package importing the other's concrete types.
type Adapter interface {
	Read(ctx context.Context, statement string, opts runtime.ReadOptions) (value json.RawMessage, responseBytes int, err error)
}

var _ runtime.SQLAdapter = Adapter(nil)
