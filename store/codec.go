package store

import (
	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"

	"pdsnotes/models"
)

// Entities are stored as a msgpack payload next to a few plain columns used
// for lookups. msgpack keeps rows compact for long note bodies.

func encodeEntity(e models.Entity) ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, serr.Wrap(err, "failed to msgpack encode entity", "kind", string(e.Kind()))
	}
	return b, nil
}

func decodeEntity(kind models.Kind, payload []byte) (models.Entity, error) {
	e, err := models.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(payload, e); err != nil {
		return nil, serr.Wrap(err, "failed to msgpack decode entity", "kind", string(kind))
	}
	return e, nil
}
