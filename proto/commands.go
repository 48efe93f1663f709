// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proto

import "github.com/luxfi/lrucache/store"

// Command is a pure function from (Store, argument bytes) to a reply
// line. The argument slice excludes the trailing CRLF; it is empty for
// verbs that carry no payload. Execute never errors: a StoreRejection
// (value too large, missing key) is reported as a negative reply, not
// an error return, so it can never propagate out of a connection.
type Command interface {
	Execute(s store.Accessor, arg []byte) string
}

type putCommand struct{ key []byte }

func (c putCommand) Execute(s store.Accessor, arg []byte) string {
	if s.Put(c.key, arg) {
		return "STORED"
	}
	return "SERVER_ERROR value too large"
}

type putIfAbsentCommand struct{ key []byte }

func (c putIfAbsentCommand) Execute(s store.Accessor, arg []byte) string {
	if s.PutIfAbsent(c.key, arg) {
		return "STORED"
	}
	return "NOT_STORED"
}

type setCommand struct{ key []byte }

func (c setCommand) Execute(s store.Accessor, arg []byte) string {
	if s.Set(c.key, arg) {
		return "STORED"
	}
	return "NOT_STORED"
}

type deleteCommand struct{ key []byte }

func (c deleteCommand) Execute(s store.Accessor, _ []byte) string {
	if s.Delete(c.key) {
		return "DELETED"
	}
	return "NOT_FOUND"
}

type getCommand struct{ key []byte }

func (c getCommand) Execute(s store.Accessor, _ []byte) string {
	v, ok := s.Get(c.key)
	if !ok {
		return "NOT_FOUND"
	}
	return "VALUE " + string(v)
}
