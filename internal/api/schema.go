package api

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	ExpandedStruct: true,
	Mapper:         mapWireType,
}

func mapWireType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(common.Address{}):
		return &jsonschema.Schema{Type: "string", Pattern: "^0x[0-9a-fA-F]{40}$"}
	case reflect.TypeOf(common.Hash{}):
		return &jsonschema.Schema{Type: "string", Pattern: "^0x[0-9a-fA-F]{64}$"}
	case reflect.TypeOf(hexutil.Bytes{}):
		return &jsonschema.Schema{Type: "string", Pattern: "^0x([0-9a-fA-F]{2})*$"}
	case reflect.TypeOf(math.HexOrDecimal256{}):
		return &jsonschema.Schema{Type: "string", Pattern: "^(0x[0-9a-fA-F]+|[0-9]+)$"}
	}
	return nil
}

// SchemaNames lists the names Schema accepts: one request and one response
// schema per operation.
func SchemaNames() []string {
	names := make([]string, 0, 2*len(ops))
	for _, o := range ops {
		names = append(names, o.Name+"Request", o.Name+"Response")
	}
	return names
}

// Schema returns the JSON schema of a wire type by name, e.g.
// "SpendRequest" for the request body of Spend.
func Schema(name string) ([]byte, error) {
	for _, o := range ops {
		var sample any
		switch name {
		case o.Name + "Request":
			sample = o.RequestSample()
		case o.Name + "Response":
			sample = o.ResponseSample()
		default:
			continue
		}
		b, err := json.MarshalIndent(reflector.Reflect(sample), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: no schema named %q", ErrUnknownOp, name)
}
