// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrap(err, "context")
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	wrapped := Wrapf(ErrNotFound, "memory %s", "m1")
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapped error should unwrap to ErrNotFound")
	}
	if !strings.HasPrefix(wrapped.Error(), "memory m1: ") {
		t.Errorf("unexpected message: %s", wrapped)
	}
}

func TestInvalidf(t *testing.T) {
	err := Invalidf("user id is required")
	if !errors.Is(err, ErrInvalidArg) {
		t.Error("Invalidf should wrap ErrInvalidArg")
	}
	if !strings.Contains(err.Error(), "user id is required") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestJoin(t *testing.T) {
	if Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}
	err := Join(ErrPartialPersistence, errors.New("disk full"))
	if !errors.Is(err, ErrPartialPersistence) {
		t.Error("joined error should match ErrPartialPersistence")
	}
}
