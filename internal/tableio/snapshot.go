package tableio

import (
	"github.com/golang/snappy"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// EncodeSnapshot returns the snappy-compressed JSON form of t.
func EncodeSnapshot(t *types.Table) ([]byte, error) {
	data, err := MarshalTable(t)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (*types.Table, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid snapshot", err)
	}
	return UnmarshalTable(raw)
}
