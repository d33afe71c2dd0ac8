package store

import (
	"fmt"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
)

func typeMismatch(op string, cur, delta message.Data) error {
	return common.NewWeftErr("store", common.TypeMismatch,
		fmt.Sprintf("cannot %s %s to %s", op, delta.Kind(), cur.Kind()))
}

// Arithmetic applies a typed add or subtract of delta onto cur and
// returns the new value. A none current value initializes from the
// delta: add starts at delta, subtract at its negation where the kind
// has one.
func Arithmetic(cur, delta message.Data, subtract bool) (message.Data, error) {
	op := "add"
	if subtract {
		op = "subtract"
	}

	if cur.IsNone() {
		if !subtract {
			return delta, nil
		}
		switch delta.Kind() {
		case message.IntegerKind:
			i, _ := delta.AsInteger()
			return message.IntegerData(-i), nil
		case message.RealKind:
			r, _ := delta.AsReal()
			return message.RealData(-r), nil
		}
		return message.Data{}, typeMismatch(op, cur, delta)
	}

	switch cur.Kind() {
	case message.IntegerKind:
		c, _ := cur.AsInteger()
		d, ok := delta.AsInteger()
		if !ok {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		if subtract {
			return message.IntegerData(c - d), nil
		}
		return message.IntegerData(c + d), nil

	case message.RealKind:
		c, _ := cur.AsReal()
		var d float64
		switch delta.Kind() {
		case message.RealKind:
			d, _ = delta.AsReal()
		case message.IntegerKind:
			i, _ := delta.AsInteger()
			d = float64(i)
		default:
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		if subtract {
			return message.RealData(c - d), nil
		}
		return message.RealData(c + d), nil

	case message.StringKind:
		if subtract {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		c, _ := cur.AsString()
		d, ok := delta.AsString()
		if !ok {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		return message.StringData(c + d), nil

	case message.BytesKind:
		if subtract {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		c, _ := cur.AsBytes()
		d, ok := delta.AsBytes()
		if !ok {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		return message.BytesData(append(append([]byte{}, c...), d...)), nil

	case message.SetKind:
		items, _ := cur.AsItems()
		if subtract {
			kept := make([]message.Data, 0, len(items))
			for _, x := range items {
				if !x.Equal(delta) {
					kept = append(kept, x)
				}
			}
			return message.SetData(kept...), nil
		}
		return message.SetData(append(append([]message.Data{}, items...), delta)...), nil

	case message.ListKind:
		if subtract {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		items, _ := cur.AsItems()
		return message.ListData(append(append([]message.Data{}, items...), delta)...), nil

	case message.TableKind:
		entries, _ := cur.AsTable()
		if subtract {
			kept := make([]message.TableEntry, 0, len(entries))
			for _, e := range entries {
				if !e.Key.Equal(delta) {
					kept = append(kept, e)
				}
			}
			return message.TableData(kept...), nil
		}
		merge, ok := delta.AsTable()
		if !ok {
			return message.Data{}, typeMismatch(op, cur, delta)
		}
		return message.TableData(append(append([]message.TableEntry{}, entries...), merge...)...), nil
	}

	return message.Data{}, typeMismatch(op, cur, delta)
}
