package profile

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownKind = errors.New("unknown participant kind")

// Kind is the closed set of participant kinds. Each kind owns exactly one
// profile collection.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRealtor
	KindContractor
)

// Kinds lists every valid kind in lookup order.
var Kinds = []Kind{KindRealtor, KindContractor}

var kindNames = map[Kind]string{
	KindRealtor:    "realtor",
	KindContractor: "contractor",
}

var kindCollections = map[Kind]string{
	KindRealtor:    "realtors",
	KindContractor: "contractors",
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) Valid() bool {
	_, ok := kindCollections[k]
	return ok
}

// Collection is the profile collection of kind.
func (k Kind) Collection() (string, error) {
	coll, ok := kindCollections[k]
	if !ok {
		return "", ErrUnknownKind
	}
	return coll, nil
}
