/**
 * Copyright 2018 PickMe (Digital Mobility Solutions Lanka (PVT) Ltd).
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gayan@pickme.lk)
 */

package join

import "strconv"

// Key is the canonical correlation key. Two keys are equal only when their
// bytes are equal, runtimes must convert whatever they receive into a Key
// before handing records to a Joiner.
type Key string

func IntKey(k int64) Key {
	return Key(strconv.FormatInt(k, 10))
}

func BytesKey(b []byte) Key {
	return Key(b)
}

func (k Key) Empty() bool {
	return k == ``
}

func (k Key) String() string {
	return string(k)
}
