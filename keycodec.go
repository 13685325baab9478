package objtree

import "strconv"

// KeyCodec converts a container key to and from the string form used as a
// directory name, in a ":key" path segment, and in a Subset's on-disk key
// list (a Container's own key list is marshaled from K directly), the
// Go-idiomatic replacement
// for container.hpp's compile-time std::string/std::to_string branch on
// KeyType.
type KeyCodec[K comparable] struct {
	Format func(K) string
	Parse  func(string) (K, error)
}

// StringKeyCodec is the identity codec, for containers keyed by string.
func StringKeyCodec() KeyCodec[string] {
	return KeyCodec[string]{
		Format: func(k string) string { return k },
		Parse:  func(s string) (string, error) { return s, nil },
	}
}

type signedKey interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsignedKey interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// SignedIntKeyCodec builds a codec for any signed integer key type.
func SignedIntKeyCodec[K signedKey]() KeyCodec[K] {
	return KeyCodec[K]{
		Format: func(k K) string { return strconv.FormatInt(int64(k), 10) },
		Parse: func(s string) (K, error) {
			v, err := strconv.ParseInt(s, 10, 64)
			return K(v), err
		},
	}
}

// UnsignedIntKeyCodec builds a codec for any unsigned integer key type.
func UnsignedIntKeyCodec[K unsignedKey]() KeyCodec[K] {
	return KeyCodec[K]{
		Format: func(k K) string { return strconv.FormatUint(uint64(k), 10) },
		Parse: func(s string) (K, error) {
			v, err := strconv.ParseUint(s, 10, 64)
			return K(v), err
		},
	}
}
