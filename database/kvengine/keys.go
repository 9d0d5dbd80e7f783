package kvengine

import "encoding/binary"

// The flat-database key layout. Store names never contain the bucket
// separator, so the buckets of different stores cannot collide.
//
//	meta/version          -> schema version, 8 bytes big-endian
//	meta/store/<name>     -> store meta, JSON
//	seq/<store>           -> auto-increment counter, 8 bytes big-endian
//	data/<store>/<key>    -> record value
//	index/<store>/<index>/<entry> -> primary key
var (
	metaBucket      = MakeBucket([]byte("meta"))
	storeMetaBucket = metaBucket.Bucket([]byte("store"))
	sequenceBucket  = MakeBucket([]byte("seq"))
	dataBucket      = MakeBucket([]byte("data"))
	indexBucket     = MakeBucket([]byte("index"))

	versionKey = metaBucket.Key([]byte("version"))
)

func storeMetaKey(store string) []byte {
	return storeMetaBucket.Key([]byte(store))
}

func sequenceKey(store string) []byte {
	return sequenceBucket.Key([]byte(store))
}

func storeDataBucket(store string) *Bucket {
	return dataBucket.Bucket([]byte(store))
}

func storeIndexBucket(store, index string) *Bucket {
	return indexBucket.Bucket([]byte(store)).Bucket([]byte(index))
}

func encodeUint64(value uint64) []byte {
	encoded := make([]byte, 8)
	binary.BigEndian.PutUint64(encoded, value)
	return encoded
}

func decodeUint64(encoded []byte) uint64 {
	if len(encoded) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(encoded)
}
