package cursor

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/firgia/soca/errs"
	"github.com/vmihailenco/msgpack/v5"
)

type Cursor[T any] struct {
	ID string `msgpack:"i"`
	// Value will most of the time be the CreatedAt field.
	Value T `msgpack:"v,omitempty"`
}

func Encode[T any](c Cursor[T]) (string, error) {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("msgpack marshal cursor: %w", err)
	}

	return base58.Encode(b), nil
}

func Decode[T any](s string) (Cursor[T], error) {
	var c Cursor[T]

	b := base58.Decode(s)
	if len(b) == 0 {
		return c, errs.NewInvalidArgumentError("after", "invalid cursor")
	}

	if err := msgpack.Unmarshal(b, &c); err != nil || c.ID == "" {
		return c, errs.NewInvalidArgumentError("after", "invalid cursor")
	}

	return c, nil
}
