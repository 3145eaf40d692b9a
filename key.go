package notary

import (
	"bytes"

	"github.com/pandodao/mtg/mtgpack"
)

var (
	nymPrefix      = []byte("n:")
	unitPrefix     = []byte("u:")
	accountPrefix  = []byte("a:")
	contextPrefix  = []byte("c:")
	ledgerPrefix   = []byte("l:")
	cronPrefix     = []byte("j:")
	propertyPrefix = []byte("p:")
	sequenceKey    = []byte("s:numbers")
)

func buildIndexKey(prefix []byte, values ...any) []byte {
	enc := mtgpack.NewEncoder()
	if err := enc.EncodeValues(values...); err != nil {
		panic(err)
	}

	key := make([]byte, 0, len(prefix)+len(enc.Bytes()))
	key = append(key, prefix...)
	return append(key, enc.Bytes()...)
}

func decodeIndexKey(key, prefix []byte, values ...any) error {
	b := bytes.TrimPrefix(key, prefix)
	dec := mtgpack.NewDecoder(b)
	return dec.DecodeValues(values...)
}

func ledgerKeyPrefix(owner string, kind LedgerKind) []byte {
	return buildIndexKey(ledgerPrefix, owner, uint8(kind))
}

func ledgerKey(owner string, kind LedgerKind, number TxNumber) []byte {
	return buildIndexKey(ledgerKeyPrefix(owner, kind), int64(number))
}

func cronKey(number TxNumber) []byte {
	return buildIndexKey(cronPrefix, int64(number))
}
