// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package coverage

// windowKey is the reserved dispatcher key bound to the window-level
// callback, which is always present (spec.md §9 design notes). User
// sub-region keys are their index within the window's sub-region slice,
// which is always >= 0, so windowKey is chosen outside that range.
const windowKey = -1

// ActiveRegionDispatcher multiplexes a single per-position event stream to
// whichever callbacks are currently bound. It is not a data structure in
// its own right so much as a name for the binding discipline: an
// append/swap-remove slice pair, rather than a map, keeps the hot per-base
// dispatch loop allocation-free (spec.md §9 design notes). The window-level
// callback is bound at construction and is never removed.
type ActiveRegionDispatcher[A, B any] struct {
	keys      []int
	callbacks []func(A, B)
}

// NewActiveRegionDispatcher constructs a dispatcher with windowCallback
// bound under the reserved window key.
func NewActiveRegionDispatcher[A, B any](windowCallback func(A, B)) *ActiveRegionDispatcher[A, B] {
	return &ActiveRegionDispatcher[A, B]{
		keys:      []int{windowKey},
		callbacks: []func(A, B){windowCallback},
	}
}

// Insert binds cb under key. key must not already be bound.
func (d *ActiveRegionDispatcher[A, B]) Insert(key int, cb func(A, B)) {
	d.keys = append(d.keys, key)
	d.callbacks = append(d.callbacks, cb)
}

// Remove unbinds key, if present. Removing the window key is a no-op.
func (d *ActiveRegionDispatcher[A, B]) Remove(key int) {
	if key == windowKey {
		return
	}
	for i, k := range d.keys {
		if k == key {
			last := len(d.keys) - 1
			d.keys[i] = d.keys[last]
			d.callbacks[i] = d.callbacks[last]
			d.keys = d.keys[:last]
			d.callbacks = d.callbacks[:last]
			return
		}
	}
}

// Size returns the number of currently bound callbacks, including the
// window-level one.
func (d *ActiveRegionDispatcher[A, B]) Size() int { return len(d.keys) }

// Dispatch invokes every currently bound callback with (a, b).
func (d *ActiveRegionDispatcher[A, B]) Dispatch(a A, b B) {
	for _, cb := range d.callbacks {
		cb(a, b)
	}
}
